package margin

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/luxfi/database"
)

// Key layout: a one-byte-ish string prefix per record class, with
// big-endian ids so prefix iteration walks records in id order.
var (
	balancePrefix  = []byte("b/")
	positionPrefix = []byte("p/")
	orderPrefix    = []byte("o/")
	paramMaintKey  = []byte("param/maintenance")
	paramFeeKey    = []byte("param/fee")
	seqPositionKey = []byte("seq/position")
	seqOrderKey    = []byte("seq/order")
)

// Store persists engine state to a key-value database. Records are
// written through on every successful mutation and reloaded wholesale
// at startup.
type Store struct {
	db database.Database
}

// NewStore wraps a database
func NewStore(db database.Database) *Store {
	return &Store{db: db}
}

// State is the full persisted engine state.
type State struct {
	Balances               map[string]*big.Int
	Positions              []*Position
	Orders                 []*Order
	MaintenanceMarginRatio *big.Int
	LiquidationFeeRatio    *big.Int
	PositionSeq            uint64
	OrderSeq               uint64
}

// PutBalance persists one user balance.
func (s *Store) PutBalance(user string, balance *big.Int) error {
	return s.db.Put(append(balancePrefix, user...), []byte(balance.String()))
}

// PutPosition persists one position.
func (s *Store) PutPosition(p *Position) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode position %d: %w", p.ID, err)
	}
	return s.db.Put(idKey(positionPrefix, p.ID), data)
}

// DeletePosition removes a settled position record.
func (s *Store) DeletePosition(id uint64) error {
	return s.db.Delete(idKey(positionPrefix, id))
}

// PutOrder persists one order. Inactive orders stay on disk for audit.
func (s *Store) PutOrder(o *Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode order %d: %w", o.ID, err)
	}
	return s.db.Put(idKey(orderPrefix, o.ID), data)
}

// PutParams persists the liquidation parameters.
func (s *Store) PutParams(maintenance, fee *big.Int) error {
	if err := s.db.Put(paramMaintKey, []byte(maintenance.String())); err != nil {
		return err
	}
	return s.db.Put(paramFeeKey, []byte(fee.String()))
}

// PutSequences persists the id counters.
func (s *Store) PutSequences(positionSeq, orderSeq uint64) error {
	if err := s.db.Put(seqPositionKey, encodeUint64(positionSeq)); err != nil {
		return err
	}
	return s.db.Put(seqOrderKey, encodeUint64(orderSeq))
}

// Load reads the full persisted state.
func (s *Store) Load() (*State, error) {
	state := &State{Balances: make(map[string]*big.Int)}

	it := s.db.NewIteratorWithPrefix(balancePrefix)
	for it.Next() {
		user := string(it.Key()[len(balancePrefix):])
		balance, ok := new(big.Int).SetString(string(it.Value()), 10)
		if !ok {
			it.Release()
			return nil, fmt.Errorf("corrupt balance record for %s", user)
		}
		state.Balances[user] = balance
	}
	if err := it.Error(); err != nil {
		it.Release()
		return nil, err
	}
	it.Release()

	it = s.db.NewIteratorWithPrefix(positionPrefix)
	for it.Next() {
		p := new(Position)
		if err := json.Unmarshal(it.Value(), p); err != nil {
			it.Release()
			return nil, fmt.Errorf("corrupt position record: %w", err)
		}
		state.Positions = append(state.Positions, p)
	}
	if err := it.Error(); err != nil {
		it.Release()
		return nil, err
	}
	it.Release()

	it = s.db.NewIteratorWithPrefix(orderPrefix)
	for it.Next() {
		o := new(Order)
		if err := json.Unmarshal(it.Value(), o); err != nil {
			it.Release()
			return nil, fmt.Errorf("corrupt order record: %w", err)
		}
		state.Orders = append(state.Orders, o)
	}
	if err := it.Error(); err != nil {
		it.Release()
		return nil, err
	}
	it.Release()

	var err error
	if state.MaintenanceMarginRatio, err = s.getBigInt(paramMaintKey); err != nil {
		return nil, err
	}
	if state.LiquidationFeeRatio, err = s.getBigInt(paramFeeKey); err != nil {
		return nil, err
	}
	if state.PositionSeq, err = s.getUint64(seqPositionKey); err != nil {
		return nil, err
	}
	if state.OrderSeq, err = s.getUint64(seqOrderKey); err != nil {
		return nil, err
	}

	return state, nil
}

func (s *Store) getBigInt(key []byte) (*big.Int, error) {
	data, err := s.db.Get(key)
	if err == database.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v, ok := new(big.Int).SetString(string(data), 10)
	if !ok {
		return nil, fmt.Errorf("corrupt record at %s", key)
	}
	return v, nil
}

func (s *Store) getUint64(key []byte) (uint64, error) {
	data, err := s.db.Get(key)
	if err == database.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt record at %s", key)
	}
	return binary.BigEndian.Uint64(data), nil
}

func idKey(prefix []byte, id uint64) []byte {
	key := make([]byte, len(prefix), len(prefix)+8)
	copy(key, prefix)
	return append(key, encodeUint64(id)...)
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
