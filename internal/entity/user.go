// Package entity defines the records the risk engine reads and writes, and
// the decoding that turns loosely typed store records into them.
package entity

import (
	"errors"
	"sort"
	"time"

	"github.com/mbd888/riskwatch/internal/kvstore"
)

// Workflow statuses for a user under review.
const (
	WorkflowNone          = ""
	WorkflowPendingReview = "pending_review"
	WorkflowReviewed      = "reviewed"
)

// Account is one entry of a user's accounts map.
type Account struct {
	ID          string
	Type        string
	Balance     float64
	Status      string
	CreatedDate time.Time // zero when unknown
	FraudFlag   bool
}

// Device is one entry of a user's devices map.
type Device struct {
	ID        string
	Type      string
	OS        string
	Browser   string
	FraudFlag bool
}

// User is an ingested user record with its nested accounts and devices.
type User struct {
	ID        string
	Name      string
	Email     string
	Phone     string
	CreatedAt time.Time

	Accounts map[string]Account
	Devices  map[string]Device

	LastEvaluated    *time.Time
	EvaluationCount  int
	CurrentRiskScore float64
	WorkflowStatus   string

	raw kvstore.Record
}

var errEmptyRecord = errors.New("entity: empty record")

// DecodeUser builds a User from its stored record. Nested maps that are
// missing or malformed decode as empty; only a nil or corrupt record is an
// error.
func DecodeUser(id string, rec kvstore.Record) (*User, error) {
	if rec == nil {
		return nil, errEmptyRecord
	}
	if err := kvstore.Corrupt(rec); err != nil {
		return nil, err
	}

	u := &User{
		ID:               id,
		Name:             asString(rec["name"]),
		Email:            asString(rec["email"]),
		Phone:            asString(rec["phone"]),
		Accounts:         make(map[string]Account),
		Devices:          make(map[string]Device),
		EvaluationCount:  asInt(rec["evaluation_count"]),
		CurrentRiskScore: asFloat(rec["current_risk_score"]),
		WorkflowStatus:   asString(rec["workflow_status"]),
		raw:              rec,
	}
	if uid := asString(rec["user_id"]); uid != "" && id == "" {
		u.ID = uid
	}
	if ts, ok := asTime(rec["created_at"]); ok {
		u.CreatedAt = ts
	}
	if ts, ok := asTime(rec["last_evaluated"]); ok {
		u.LastEvaluated = &ts
	}

	for accID, v := range asMap(rec["accounts"]) {
		if accID == "" {
			continue
		}
		m := asMap(v)
		acc := Account{
			ID:        accID,
			Type:      firstString(m, "account_type", "type"),
			Balance:   asFloat(m["balance"]),
			Status:    asString(m["status"]),
			FraudFlag: asBool(m["fraud_flag"]),
		}
		if ts, ok := asTime(m["created_date"]); ok {
			acc.CreatedDate = ts
		}
		u.Accounts[accID] = acc
	}

	for devID, v := range asMap(rec["devices"]) {
		if devID == "" {
			continue
		}
		m := asMap(v)
		u.Devices[devID] = Device{
			ID:        devID,
			Type:      firstString(m, "device_type", "type"),
			OS:        asString(m["os"]),
			Browser:   asString(m["browser"]),
			FraudFlag: asBool(m["fraud_flag"]),
		}
	}
	return u, nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := asString(m[k]); s != "" {
			return s
		}
	}
	return ""
}

// AccountIDs returns the user's account ids in sorted order.
func (u *User) AccountIDs() []string {
	ids := make([]string, 0, len(u.Accounts))
	for id := range u.Accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DeviceIDs returns the user's device ids in sorted order.
func (u *User) DeviceIDs() []string {
	ids := make([]string, 0, len(u.Devices))
	for id := range u.Devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MarkEvaluated records one evaluation at now with the given score.
func (u *User) MarkEvaluated(now time.Time, score float64) {
	ts := now.UTC()
	u.LastEvaluated = &ts
	u.EvaluationCount++
	u.CurrentRiskScore = score
}

// Record returns the record to write back for this user. Fields the engine
// does not model are carried over from the record it was decoded from.
func (u *User) Record() kvstore.Record {
	out := make(kvstore.Record, len(u.raw)+6)
	for k, v := range u.raw {
		out[k] = v
	}
	if u.raw == nil {
		out["name"] = u.Name
		out["email"] = u.Email
		out["phone"] = u.Phone
		if !u.CreatedAt.IsZero() {
			out["created_at"] = u.CreatedAt.Format(time.RFC3339)
		}
		out["accounts"] = u.accountsRecord()
		out["devices"] = u.devicesRecord()
	}
	out["user_id"] = u.ID
	out["evaluation_count"] = u.EvaluationCount
	out["current_risk_score"] = u.CurrentRiskScore
	if u.LastEvaluated != nil {
		out["last_evaluated"] = u.LastEvaluated.Format(time.RFC3339Nano)
	}
	if u.WorkflowStatus != WorkflowNone {
		out["workflow_status"] = u.WorkflowStatus
	}
	return out
}

func (u *User) accountsRecord() map[string]any {
	out := make(map[string]any, len(u.Accounts))
	for id, a := range u.Accounts {
		m := map[string]any{
			"account_type": a.Type,
			"balance":      a.Balance,
			"status":       a.Status,
			"fraud_flag":   a.FraudFlag,
		}
		if !a.CreatedDate.IsZero() {
			m["created_date"] = a.CreatedDate.Format(time.RFC3339)
		}
		out[id] = m
	}
	return out
}

func (u *User) devicesRecord() map[string]any {
	out := make(map[string]any, len(u.Devices))
	for id, d := range u.Devices {
		out[id] = map[string]any{
			"device_type": d.Type,
			"os":          d.OS,
			"browser":     d.Browser,
			"fraud_flag":  d.FraudFlag,
		}
	}
	return out
}
