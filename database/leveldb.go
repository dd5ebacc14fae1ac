package database

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB implements DbStorage on top of goleveldb, prefixing every key
// with its column family name the way daglabs-btcd's LevelDB wrapper
// prefixed keys with a bucket name.
type LevelDB struct {
	ldb *leveldb.DB
}

// Open opens (or creates) a LevelDB-backed DbStorage at path.
func Open(path string) (*LevelDB, error) {
	ldb, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", path)
	}
	return &LevelDB{ldb: ldb}, nil
}

func cfKey(cf ColumnFamily, key []byte) []byte {
	out := make([]byte, 0, len(cf)+1+len(key))
	out = append(out, []byte(cf)...)
	out = append(out, '/')
	out = append(out, key...)
	return out
}

func (db *LevelDB) Put(cf ColumnFamily, key, value []byte) error {
	return db.ldb.Put(cfKey(cf, key), value, nil)
}

func (db *LevelDB) Get(cf ColumnFamily, key []byte) ([]byte, error) {
	value, err := db.ldb.Get(cfKey(cf, key), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, errors.WithStack(ErrNotFound)
		}
		return nil, err
	}
	return value, nil
}

func (db *LevelDB) Has(cf ColumnFamily, key []byte) (bool, error) {
	return db.ldb.Has(cfKey(cf, key), nil)
}

func (db *LevelDB) Delete(cf ColumnFamily, key []byte) error {
	return db.ldb.Delete(cfKey(cf, key), nil)
}

func (db *LevelDB) NewBatch() Batch {
	return &levelDBBatch{db: db, batch: new(leveldb.Batch)}
}

func (db *LevelDB) Cursor(cf ColumnFamily) (Cursor, error) {
	prefix := append([]byte(cf), '/')
	it := db.ldb.NewIterator(util.BytesPrefix(prefix), nil)
	return &levelDBCursor{ldbIterator: it, prefix: prefix}, nil
}

func (db *LevelDB) Close() error {
	return db.ldb.Close()
}

// levelDBBatch accumulates writes for atomic commit, grounded on
// daglabs-btcd's write-batch usage pattern throughout dbaccess.
type levelDBBatch struct {
	db    *LevelDB
	batch *leveldb.Batch
}

func (b *levelDBBatch) Put(cf ColumnFamily, key, value []byte) error {
	b.batch.Put(cfKey(cf, key), value)
	return nil
}

func (b *levelDBBatch) Delete(cf ColumnFamily, key []byte) error {
	b.batch.Delete(cfKey(cf, key))
	return nil
}

// Get and Has read through to the underlying store since a goleveldb Batch
// is write-only; a component reading back its own uncommitted writes within
// a batch must track them itself (none of dagchain's batch producers do).
func (b *levelDBBatch) Get(cf ColumnFamily, key []byte) ([]byte, error) {
	return b.db.Get(cf, key)
}

func (b *levelDBBatch) Has(cf ColumnFamily, key []byte) (bool, error) {
	return b.db.Has(cf, key)
}

func (b *levelDBBatch) Commit() error {
	return b.db.ldb.Write(b.batch, nil)
}

func (b *levelDBBatch) Discard() {
	b.batch.Reset()
}

// levelDBCursor is a thin wrapper around a native leveldb iterator, grounded
// on daglabs-btcd's database/ffldb/ldb.LevelDBCursor.
type levelDBCursor struct {
	ldbIterator iterator.Iterator
	prefix      []byte
	isClosed    bool
}

func (c *levelDBCursor) Next() bool {
	if c.isClosed {
		return false
	}
	return c.ldbIterator.Next()
}

func (c *levelDBCursor) Error() error {
	return c.ldbIterator.Error()
}

func (c *levelDBCursor) First() (bool, error) {
	if c.isClosed {
		return false, errors.New("cannot use a closed cursor")
	}
	return c.ldbIterator.First(), nil
}

func (c *levelDBCursor) Seek(key []byte) (bool, error) {
	if c.isClosed {
		return false, errors.New("cannot use a closed cursor")
	}
	return c.ldbIterator.Seek(append(append([]byte{}, c.prefix...), key...)), nil
}

func (c *levelDBCursor) Key() ([]byte, error) {
	if c.isClosed {
		return nil, errors.New("cannot use a closed cursor")
	}
	full := c.ldbIterator.Key()
	if full == nil {
		return nil, errors.WithStack(ErrNotFound)
	}
	return bytes.TrimPrefix(full, c.prefix), nil
}

func (c *levelDBCursor) Value() ([]byte, error) {
	if c.isClosed {
		return nil, errors.New("cannot use a closed cursor")
	}
	value := c.ldbIterator.Value()
	if value == nil {
		return nil, errors.WithStack(ErrNotFound)
	}
	return value, nil
}

func (c *levelDBCursor) Close() error {
	if c.isClosed {
		return errors.New("cannot close an already closed cursor")
	}
	c.isClosed = true
	c.ldbIterator.Release()
	return nil
}
