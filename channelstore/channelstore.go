// Package channelstore persists what a consumer knows about its payment
// channels with issuers, and which channel it prefers to pay with.
package channelstore

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/strawpay/stroem-consumerj/issuer"
)

const latestVersion = 1

var (
	// ServerID (32 bytes) -> msgpack Channel
	channelsBucket = []byte("channels")

	// miscBucket holds the preferred channel and the database version.
	miscBucket   = []byte("misc")
	preferredKey = []byte("preferred")
	versionKey   = []byte("version")
)

var ErrNotFound = errors.New("channel not found")

// Channel is the stored configuration of a payment channel with an issuer.
type Channel struct {
	ServerID  issuer.ServerID
	IssuerURI string

	IssuerName      string
	IssuerPublicKey []byte

	MaxValue int64
	Timeout  time.Duration

	// MinerFee overrides the engine's default fee when set.
	MinerFee *int64

	FiatValue    int64
	FiatCurrency string
	Note         string

	OpenedAt time.Time
}

// Config returns the part of an issuer.Config this channel determines.
func (c Channel) Config() issuer.Config {
	return issuer.Config{
		ServerID:       c.ServerID,
		MaxValue:       c.MaxValue,
		ChannelTimeout: c.Timeout,
	}
}

// Store is a bolt database of channels.
type Store struct {
	db *bolt.DB
}

// Open opens the store at path, creating it if necessary.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening channel store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(channelsBucket)
		if err != nil {
			return err
		}
		misc, err := tx.CreateBucketIfNotExists(miscBucket)
		if err != nil {
			return err
		}
		if misc.Get(versionKey) == nil {
			return misc.Put(versionKey, []byte{latestVersion})
		}
		if v := misc.Get(versionKey); len(v) != 1 || v[0] > latestVersion {
			return fmt.Errorf("unsupported channel store version %v", v)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing channel store %s: %w", path, err)
	}
	log.Debugf("opened channel store %s", path)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Put adds or replaces the channel with c.ServerID.
func (s *Store) Put(c Channel) error {
	b, err := msgpack.Marshal(&c)
	if err != nil {
		return fmt.Errorf("encoding channel %v: %w", c.ServerID, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(channelsBucket).Put(c.ServerID[:], b)
	})
	if err != nil {
		return fmt.Errorf("storing channel %v: %w", c.ServerID, err)
	}
	return nil
}

func getChannel(tx *bolt.Tx, id []byte) (Channel, error) {
	b := tx.Bucket(channelsBucket).Get(id)
	if b == nil {
		return Channel{}, ErrNotFound
	}
	c := Channel{}
	err := msgpack.Unmarshal(b, &c)
	if err != nil {
		return Channel{}, fmt.Errorf("decoding channel %x: %w", id, err)
	}
	return c, nil
}

func (s *Store) Get(id issuer.ServerID) (Channel, error) {
	var c Channel
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		c, err = getChannel(tx, id[:])
		return err
	})
	if err != nil {
		return Channel{}, err
	}
	return c, nil
}

// Delete removes the channel, and unsets it as preferred if it was.
func (s *Store) Delete(id issuer.ServerID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		channels := tx.Bucket(channelsBucket)
		if channels.Get(id[:]) == nil {
			return ErrNotFound
		}
		err := channels.Delete(id[:])
		if err != nil {
			return err
		}
		misc := tx.Bucket(miscBucket)
		if bytes.Equal(misc.Get(preferredKey), id[:]) {
			return misc.Delete(preferredKey)
		}
		return nil
	})
}

// All returns every channel ordered by server id.
func (s *Store) All() ([]Channel, error) {
	channels := []Channel{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(channelsBucket).ForEach(func(k, _ []byte) error {
			c, err := getChannel(tx, k)
			if err != nil {
				return err
			}
			channels = append(channels, c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return channels, nil
}

// SetPreferred makes the channel the one to pay with by default.
func (s *Store) SetPreferred(id issuer.ServerID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(channelsBucket).Get(id[:]) == nil {
			return ErrNotFound
		}
		return tx.Bucket(miscBucket).Put(preferredKey, id[:])
	})
}

// Preferred returns the preferred channel, or ErrNotFound if none is set.
func (s *Store) Preferred() (Channel, error) {
	var c Channel
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(miscBucket).Get(preferredKey)
		if id == nil {
			return ErrNotFound
		}
		var err error
		c, err = getChannel(tx, id)
		return err
	})
	if err != nil {
		return Channel{}, err
	}
	return c, nil
}
