// Package badgerkv persists market state in BadgerDB.
//
// Layout: scalar keys price, k, issuedSupply, profitPool, ppt, orderIndex and
// totalSupply; map entries claimedProfit/<acct>, orderList/<id>,
// balances/<acct>, allowed/<owner> and earnings/<acct>. Integers are stored as
// decimal strings, composite values as JSON objects of decimal strings.
package badgerkv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/nebula-market/internal/market"
	"github.com/rovshanmuradov/nebula-market/internal/numeric"
)

const (
	keyPrice        = "price"
	keySlope        = "k"
	keyIssuedSupply = "issuedSupply"
	keyProfitPool   = "profitPool"
	keyPPT          = "ppt"
	keyOrderIndex   = "orderIndex"
	keyTotalSupply  = "totalSupply"

	prefixClaimed  = "claimedProfit/"
	prefixOrders   = "orderList/"
	prefixBalances = "balances/"
	prefixAllowed  = "allowed/"
	prefixEarnings = "earnings/"
)

// Store is a market.Store backed by BadgerDB.
type Store struct {
	db     *badger.DB
	logger *zap.Logger
}

// Open opens or creates the store in dir. With inMemory set, dir is ignored
// and nothing touches the disk.
func Open(dir string, inMemory bool, logger *zap.Logger) (*Store, error) {
	logger = logger.Named("badger")

	opts := badger.DefaultOptions(dir)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(&badgerLogger{sugar: logger.Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type orderRecord struct {
	OrderID   uint64    `json:"orderId"`
	Account   string    `json:"account"`
	Amount    string    `json:"amount"`
	Value     string    `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
}

type earningsRecord struct {
	ByShare     string `json:"byShare"`
	ByReference string `json:"byReference"`
}

// Commit writes a changeset in one badger transaction.
func (s *Store) Commit(ctx context.Context, cs *market.Changeset) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		scalars := []struct {
			key string
			val *big.Int
		}{
			{keyPrice, cs.Price},
			{keySlope, cs.Slope},
			{keyIssuedSupply, cs.IssuedSupply},
			{keyProfitPool, cs.ProfitPool},
			{keyPPT, cs.PPT},
			{keyTotalSupply, cs.TotalSupply},
		}
		for _, sc := range scalars {
			if sc.val == nil {
				continue
			}
			if err := txn.Set([]byte(sc.key), []byte(sc.val.String())); err != nil {
				return err
			}
		}
		if err := txn.Set([]byte(keyOrderIndex), []byte(strconv.FormatUint(cs.OrderIndex, 10))); err != nil {
			return err
		}

		for acct, v := range cs.ClaimedProfit {
			if err := txn.Set([]byte(prefixClaimed+acct), []byte(numeric.String(v))); err != nil {
				return err
			}
		}
		for acct, v := range cs.Balances {
			key := []byte(prefixBalances + acct)
			if numeric.IsZero(v) {
				if err := txn.Delete(key); err != nil {
					return err
				}
				continue
			}
			if err := txn.Set(key, []byte(v.String())); err != nil {
				return err
			}
		}
		for owner, m := range cs.Allowed {
			rec := make(map[string]string, len(m))
			for spender, v := range m {
				rec[spender] = numeric.String(v)
			}
			if err := setJSON(txn, prefixAllowed+owner, rec); err != nil {
				return err
			}
		}
		for acct, e := range cs.Earnings {
			rec := earningsRecord{ByShare: numeric.String(e.ByShare), ByReference: numeric.String(e.ByReference)}
			if err := setJSON(txn, prefixEarnings+acct, rec); err != nil {
				return err
			}
		}
		if o := cs.Order; o != nil {
			rec := orderRecord{
				OrderID:   o.ID,
				Account:   o.Account,
				Amount:    numeric.String(o.Amount),
				Value:     numeric.String(o.Value),
				Timestamp: o.Timestamp,
				Type:      string(o.Type),
			}
			if err := setJSON(txn, prefixOrders+strconv.FormatUint(o.ID, 10), rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("committing changeset: %w", err)
	}
	return nil
}

func setJSON(txn *badger.Txn, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), data)
}

// Load reads the persisted state. found is false for an empty store.
func (s *Store) Load(ctx context.Context) (st *market.State, found bool, err error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	st = &market.State{
		ClaimedProfit: make(map[string]*big.Int),
		Earnings:      make(map[string]market.Earnings),
		Balances:      make(map[string]*big.Int),
		Allowed:       make(map[string]map[string]*big.Int),
	}

	err = s.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(keySlope)); errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		} else if err != nil {
			return err
		}
		found = true

		scalars := map[string]**big.Int{
			keyPrice:        &st.Price,
			keySlope:        &st.Slope,
			keyIssuedSupply: &st.IssuedSupply,
			keyProfitPool:   &st.ProfitPool,
			keyPPT:          &st.PPT,
			keyTotalSupply:  &st.TotalSupply,
		}
		for key, dst := range scalars {
			v, err := getInt(txn, key)
			if err != nil {
				return err
			}
			*dst = v
		}

		raw, err := getString(txn, keyOrderIndex)
		if err != nil {
			return err
		}
		if st.OrderIndex, err = strconv.ParseUint(raw, 10, 64); err != nil {
			return fmt.Errorf("%s: %w", keyOrderIndex, err)
		}

		if err := scan(txn, prefixClaimed, func(acct string, val []byte) error {
			v, err := numeric.Parse(string(val))
			if err != nil {
				return err
			}
			st.ClaimedProfit[acct] = v
			return nil
		}); err != nil {
			return err
		}

		if err := scan(txn, prefixBalances, func(acct string, val []byte) error {
			v, err := numeric.Parse(string(val))
			if err != nil {
				return err
			}
			st.Balances[acct] = v
			return nil
		}); err != nil {
			return err
		}

		if err := scan(txn, prefixAllowed, func(owner string, val []byte) error {
			var rec map[string]string
			if err := json.Unmarshal(val, &rec); err != nil {
				return err
			}
			m := make(map[string]*big.Int, len(rec))
			for spender, raw := range rec {
				v, err := numeric.Parse(raw)
				if err != nil {
					return err
				}
				m[spender] = v
			}
			st.Allowed[owner] = m
			return nil
		}); err != nil {
			return err
		}

		if err := scan(txn, prefixEarnings, func(acct string, val []byte) error {
			var rec earningsRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return err
			}
			byShare, err := numeric.Parse(rec.ByShare)
			if err != nil {
				return err
			}
			byRef, err := numeric.Parse(rec.ByReference)
			if err != nil {
				return err
			}
			st.Earnings[acct] = market.Earnings{ByShare: byShare, ByReference: byRef}
			return nil
		}); err != nil {
			return err
		}

		return scan(txn, prefixOrders, func(_ string, val []byte) error {
			var rec orderRecord
			if err := json.Unmarshal(val, &rec); err != nil {
				return err
			}
			amount, err := numeric.Parse(rec.Amount)
			if err != nil {
				return err
			}
			value, err := numeric.Parse(rec.Value)
			if err != nil {
				return err
			}
			st.Orders = append(st.Orders, market.Order{
				ID:        rec.OrderID,
				Account:   rec.Account,
				Amount:    amount,
				Value:     value,
				Timestamp: rec.Timestamp,
				Type:      market.OrderType(rec.Type),
			})
			return nil
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("loading state: %w", err)
	}
	if !found {
		return nil, false, nil
	}

	// keys sort lexically, ids numerically
	sort.Slice(st.Orders, func(i, j int) bool { return st.Orders[i].ID < st.Orders[j].ID })

	s.logger.Info("State loaded",
		zap.String("price", numeric.String(st.Price)),
		zap.Uint64("order_index", st.OrderIndex),
		zap.Int("accounts", len(st.Balances)))
	return st, true, nil
}

func getString(txn *badger.Txn, key string) (string, error) {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	return string(val), nil
}

func getInt(txn *badger.Txn, key string) (*big.Int, error) {
	raw, err := getString(txn, key)
	if err != nil {
		return nil, err
	}
	v, err := numeric.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func scan(txn *badger.Txn, prefix string, fn func(suffix string, val []byte) error) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		item := it.Item()
		key := string(item.KeyCopy(nil))
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(strings.TrimPrefix(key, prefix), val); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// badgerLogger routes badger's internal logging through zap.
type badgerLogger struct {
	sugar *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(f string, v ...interface{})   { l.sugar.Errorf(strings.TrimSpace(f), v...) }
func (l *badgerLogger) Warningf(f string, v ...interface{}) { l.sugar.Warnf(strings.TrimSpace(f), v...) }
func (l *badgerLogger) Infof(f string, v ...interface{})    { l.sugar.Debugf(strings.TrimSpace(f), v...) }
func (l *badgerLogger) Debugf(f string, v ...interface{})   { l.sugar.Debugf(strings.TrimSpace(f), v...) }
