// Package relcache builds the in-memory ownership and device-sharing indices
// a job run needs from one scan of the user records. Every relationship is
// derived from the accounts and devices maps nested inside users, so no
// graph queries are ever made.
//
// A Cache is read-only after Build and scoped to a single job execution.
package relcache

import (
	"fmt"
	"sort"
	"time"

	"github.com/mbd888/riskwatch/internal/entity"
	"github.com/mbd888/riskwatch/internal/kvstore"
)

// Cache holds the relationship indices for one job run.
type Cache struct {
	AccountUser    map[string]string    // account → owning user
	UserAccounts   map[string][]string  // user → accounts, sorted
	UserDevices    map[string][]string  // user → devices, sorted
	DeviceUsers    map[string][]string  // device → users, sorted
	AccountCreated map[string]time.Time // account → creation date (absent when unknown)
	AccountFraud   map[string]bool      // account → fraud flag

	AccountIDs []string // sorted
	DeviceIDs  []string // sorted

	// Users holds the decoded user records keyed by user id.
	Users map[string]*entity.User

	// Skipped counts user records that could not be decoded.
	Skipped int

	// DuplicateAccounts lists account ids found under more than one user.
	// The first owner in user-id order keeps the account.
	DuplicateAccounts []string
}

// Build indexes the given user entries. Malformed records are skipped and
// counted; Build never fails.
func Build(entries []kvstore.Entry) *Cache {
	c := &Cache{
		AccountUser:    make(map[string]string),
		UserAccounts:   make(map[string][]string),
		UserDevices:    make(map[string][]string),
		DeviceUsers:    make(map[string][]string),
		AccountCreated: make(map[string]time.Time),
		AccountFraud:   make(map[string]bool),
		Users:          make(map[string]*entity.User),
	}

	sorted := make([]kvstore.Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	deviceSeen := make(map[string]map[string]bool)
	for _, e := range sorted {
		u, err := decodeUser(e)
		if err != nil || u.ID == "" {
			c.Skipped++
			continue
		}
		if _, dup := c.Users[u.ID]; dup {
			c.Skipped++
			continue
		}
		c.Users[u.ID] = u

		accounts := make([]string, 0, len(u.Accounts))
		for _, accID := range u.AccountIDs() {
			if _, taken := c.AccountUser[accID]; taken {
				c.DuplicateAccounts = append(c.DuplicateAccounts, accID)
				continue
			}
			acc := u.Accounts[accID]
			c.AccountUser[accID] = u.ID
			c.AccountFraud[accID] = acc.FraudFlag
			if !acc.CreatedDate.IsZero() {
				c.AccountCreated[accID] = acc.CreatedDate
			}
			c.AccountIDs = append(c.AccountIDs, accID)
			accounts = append(accounts, accID)
		}
		c.UserAccounts[u.ID] = accounts

		devices := u.DeviceIDs()
		c.UserDevices[u.ID] = devices
		for _, devID := range devices {
			seen, ok := deviceSeen[devID]
			if !ok {
				seen = make(map[string]bool)
				deviceSeen[devID] = seen
				c.DeviceIDs = append(c.DeviceIDs, devID)
			}
			if !seen[u.ID] {
				seen[u.ID] = true
				c.DeviceUsers[devID] = append(c.DeviceUsers[devID], u.ID)
			}
		}
	}

	// users were visited in id order, so DeviceUsers lists are already sorted
	sort.Strings(c.AccountIDs)
	sort.Strings(c.DeviceIDs)
	return c
}

// decodeUser shields Build from any panic in record decoding.
func decodeUser(e kvstore.Entry) (u *entity.User, err error) {
	defer func() {
		if r := recover(); r != nil {
			u, err = nil, fmt.Errorf("relcache: decode user %s: %v", e.ID, r)
		}
	}()
	return entity.DecodeUser(e.ID, e.Record)
}

// Owner returns the user owning an account.
func (c *Cache) Owner(accountID string) (string, bool) {
	u, ok := c.AccountUser[accountID]
	return u, ok
}

// DevicesForAccount returns the devices of the account's owning user.
func (c *Cache) DevicesForAccount(accountID string) []string {
	owner, ok := c.AccountUser[accountID]
	if !ok {
		return nil
	}
	return c.UserDevices[owner]
}

// DeviceCount is the number of devices of the owning user, at least 1.
func (c *Cache) DeviceCount(accountID string) int {
	if n := len(c.DevicesForAccount(accountID)); n > 0 {
		return n
	}
	return 1
}

// AccountsForDevice returns every account reachable from a device through
// its users, deduplicated and sorted.
func (c *Cache) AccountsForDevice(deviceID string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, userID := range c.DeviceUsers[deviceID] {
		for _, accID := range c.UserAccounts[userID] {
			if !seen[accID] {
				seen[accID] = true
				out = append(out, accID)
			}
		}
	}
	sort.Strings(out)
	return out
}

// SharedDeviceAccounts returns the other accounts that share at least one
// device with accountID, including other accounts of the same user.
func (c *Cache) SharedDeviceAccounts(accountID string) []string {
	seen := map[string]bool{accountID: true}
	var out []string
	for _, devID := range c.DevicesForAccount(accountID) {
		for _, other := range c.AccountsForDevice(devID) {
			if !seen[other] {
				seen[other] = true
				out = append(out, other)
			}
		}
	}
	sort.Strings(out)
	return out
}

// AccountAgeDays returns whole days from the account's creation to now, and
// false when the creation date is unknown.
func (c *Cache) AccountAgeDays(accountID string, now time.Time) (int, bool) {
	created, ok := c.AccountCreated[accountID]
	if !ok {
		return 0, false
	}
	days := int(now.Sub(created).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return days, true
}
