package server

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stakefarm/config"
	"stakefarm/crypto"
	"stakefarm/native/farm"
	"stakefarm/services/farmd/journal"
)

type poolResponse struct {
	ID                   uint64 `json:"id"`
	StakeAsset           string `json:"stakeAsset"`
	AllocationPoints     uint64 `json:"allocationPoints"`
	Weight               uint8  `json:"weight"`
	AccRewardPerShare    string `json:"accRewardPerShare"`
	LastAccrualPoint     uint64 `json:"lastAccrualPoint"`
	TotalAllocatedSupply string `json:"totalAllocatedSupply"`
	RewardHook           string `json:"rewardHook,omitempty"`
}

type totalsResponse struct {
	PoolCount             uint64 `json:"poolCount"`
	AllocationPoints      uint64 `json:"allocationPoints"`
	Weight                uint64 `json:"weight"`
	AllocatedRewardSupply string `json:"allocatedRewardSupply"`
}

type positionResponse struct {
	Amount     string `json:"amount"`
	RewardDebt string `json:"rewardDebt"`
}

type transferResponse struct {
	Direction string `json:"direction"`
	Asset     string `json:"asset"`
	Party     string `json:"party"`
	Amount    string `json:"amount"`
}

type receiptResponse struct {
	Pool      uint64             `json:"pool"`
	Harvested string             `json:"harvested"`
	Position  positionResponse   `json:"position"`
	Transfers []transferResponse `json:"transfers"`
	HookError string             `json:"hookError,omitempty"`
}

type weightResponse struct {
	Pool       uint64 `json:"pool"`
	Percentage uint64 `json:"percentage"`
}

type pendingResponse struct {
	Pool        uint64 `json:"pool"`
	Participant string `json:"participant"`
	Pending     string `json:"pending"`
	At          uint64 `json:"at"`
}

type balanceResponse struct {
	Asset   string `json:"asset"`
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type entryResponse struct {
	ID         string            `json:"id"`
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Hash       string            `json:"hash"`
	PrevHash   string            `json:"prevHash,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

type auditResponse struct {
	OK bool `json:"ok"`
}

type exportResponse struct {
	Path string `json:"path"`
	Rows int    `json:"rows"`
}

type depositRequest struct {
	Amount      string `json:"amount"`
	Beneficiary string `json:"beneficiary,omitempty"`
}

type withdrawRequest struct {
	Amount    string `json:"amount"`
	Recipient string `json:"recipient,omitempty"`
	Harvest   bool   `json:"harvest,omitempty"`
}

type recipientRequest struct {
	Recipient string `json:"recipient,omitempty"`
}

type addPoolRequest struct {
	AllocationPoints uint64 `json:"allocationPoints"`
	StakeAsset       string `json:"stakeAsset"`
	RewardHook       string `json:"rewardHook,omitempty"`
}

type setPoolRequest struct {
	AllocationPoints uint64 `json:"allocationPoints"`
	RewardHook       string `json:"rewardHook,omitempty"`
	OverwriteHook    bool   `json:"overwriteHook,omitempty"`
}

type weightRequest struct {
	Weight uint8 `json:"weight"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type updatePoolsRequest struct {
	Pools []uint64 `json:"pools,omitempty"`
}

type creditRequest struct {
	Asset   string `json:"asset"`
	Account string `json:"account,omitempty"`
	Amount  string `json:"amount"`
	Engine  bool   `json:"engine,omitempty"`
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

func poolFrom(p *farm.Pool) poolResponse {
	return poolResponse{
		ID:                   p.ID,
		StakeAsset:           string(p.StakeAsset),
		AllocationPoints:     p.AllocationPoints,
		Weight:               p.Weight,
		AccRewardPerShare:    decimal(p.AccRewardPerShare),
		LastAccrualPoint:     p.LastAccrualPoint,
		TotalAllocatedSupply: decimal(p.TotalAllocatedSupply),
		RewardHook:           string(p.RewardHook),
	}
}

func totalsFrom(t *farm.Totals) totalsResponse {
	return totalsResponse{
		PoolCount:             t.PoolCount,
		AllocationPoints:      t.AllocationPoints,
		Weight:                t.Weight,
		AllocatedRewardSupply: decimal(t.AllocatedRewardSupply),
	}
}

func positionFrom(p *farm.Position) positionResponse {
	debt := "0"
	if p.RewardDebt != nil {
		debt = p.RewardDebt.String()
	}
	return positionResponse{Amount: decimal(p.Amount), RewardDebt: debt}
}

func receiptFrom(r *farm.Receipt) receiptResponse {
	out := receiptResponse{
		Pool:      r.PoolID,
		Harvested: decimal(r.Harvested),
		Position:  positionFrom(positionOrZero(r.Position)),
		Transfers: make([]transferResponse, 0, len(r.Transfers)),
	}
	for _, t := range r.Transfers {
		out.Transfers = append(out.Transfers, transferResponse{
			Direction: t.Direction.String(),
			Asset:     string(t.Asset),
			Party:     formatParty(t.Party),
			Amount:    decimal(t.Amount),
		})
	}
	return out
}

func entryFrom(e *journal.Entry) entryResponse {
	attrs, err := e.Decode()
	if err != nil {
		attrs = map[string]string{"raw": e.Attributes}
	}
	return entryResponse{
		ID:         e.ID.String(),
		Sequence:   e.Sequence,
		Type:       e.Type,
		Attributes: attrs,
		Hash:       e.Hash,
		PrevHash:   e.PrevHash,
		CreatedAt:  e.CreatedAt,
	}
}

func positionOrZero(p *farm.Position) *farm.Position {
	if p == nil {
		return &farm.Position{Amount: new(uint256.Int), RewardDebt: new(big.Int)}
	}
	return p
}

func decimal(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func formatParty(addr common.Address) string {
	return crypto.FormatParticipant(addr)
}

func parseParty(raw string) (common.Address, error) {
	return crypto.ParseParticipant(raw)
}

func partyOr(raw string, fallback common.Address) (common.Address, error) {
	if raw == "" {
		return fallback, nil
	}
	return parseParty(raw)
}

func parseAmount(raw string) (*uint256.Int, error) {
	if raw == "" {
		return nil, fmt.Errorf("amount required")
	}
	return config.ParseAmount(raw)
}

func normalizeAsset(raw string) string {
	return config.NormalizeAsset(raw)
}

// decodeOptional accepts an empty body as the zero request.
func decodeOptional(r *http.Request, dst interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := decode(r, dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
