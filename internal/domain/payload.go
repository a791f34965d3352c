package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// JobKind tags the variant carried by a job envelope.
type JobKind string

const (
	KindReceivedBids JobKind = "user-received-bids"
	KindSingleToken  JobKind = "single-token"
	KindCollection   JobKind = "full-collection"
)

// Payload is the closed set of job bodies the dispatcher carries. Every
// variant lives in this file; consumers switch over them exhaustively.
type Payload interface {
	Kind() JobKind
	isPayload()
}

// ReceivedBidsJob asks for one fan-out page of an order. A nil After starts
// at the beginning of the order's token set.
type ReceivedBidsJob struct {
	OrderID string
	After   *Cursor
}

// SingleTokenReindex asks the metadata pipeline to re-verify one token.
type SingleTokenReindex struct {
	Method     string `json:"method"`
	Contract   string `json:"contract"`
	TokenID    string `json:"tokenId"`
	Collection string `json:"collection"`
}

// CollectionReindex asks the metadata pipeline to re-verify a whole
// collection.
type CollectionReindex struct {
	Method     string `json:"method"`
	Collection string `json:"collection"`
}

func (ReceivedBidsJob) Kind() JobKind    { return KindReceivedBids }
func (SingleTokenReindex) Kind() JobKind { return KindSingleToken }
func (CollectionReindex) Kind() JobKind  { return KindCollection }

func (ReceivedBidsJob) isPayload()    {}
func (SingleTokenReindex) isPayload() {}
func (CollectionReindex) isPayload()  {}

type envelope struct {
	Kind JobKind         `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type receivedBidsData struct {
	OrderID  string `json:"orderId"`
	Contract string `json:"contract,omitempty"`
	TokenID  string `json:"tokenId,omitempty"`
}

// EncodePayload renders p as {"kind": ..., "data": {...}}.
func EncodePayload(p Payload) ([]byte, error) {
	var data any
	switch v := p.(type) {
	case ReceivedBidsJob:
		d := receivedBidsData{OrderID: v.OrderID}
		if v.After != nil {
			d.Contract = strings.ToLower(v.After.Contract.Hex())
			d.TokenID = v.After.TokenID
		}
		data = d
	case SingleTokenReindex:
		data = v
	case CollectionReindex:
		data = v
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownJobKind, p)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.Kind(), err)
	}
	return json.Marshal(envelope{Kind: p.Kind(), Data: raw})
}

// DecodePayload parses an envelope produced by EncodePayload.
func DecodePayload(b []byte) (Payload, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode job envelope: %w", err)
	}

	switch env.Kind {
	case KindReceivedBids:
		var d receivedBidsData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Kind, err)
		}
		return d.toJob()
	case KindSingleToken:
		var v SingleTokenReindex
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Kind, err)
		}
		return v, nil
	case KindCollection:
		var v CollectionReindex
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Kind, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobKind, env.Kind)
	}
}

func (d receivedBidsData) toJob() (ReceivedBidsJob, error) {
	if d.OrderID == "" {
		return ReceivedBidsJob{}, fmt.Errorf("%w: orderId is required", ErrInvalidInput)
	}
	job := ReceivedBidsJob{OrderID: d.OrderID}
	if d.Contract == "" && d.TokenID == "" {
		return job, nil
	}
	if !common.IsHexAddress(d.Contract) || d.TokenID == "" {
		return ReceivedBidsJob{}, fmt.Errorf("%w: cursor needs both contract and tokenId", ErrInvalidInput)
	}
	job.After = &Cursor{
		Contract: common.HexToAddress(d.Contract),
		TokenID:  normalizeTokenID(d.TokenID),
	}
	return job, nil
}
