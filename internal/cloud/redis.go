package cloud

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/studysync/studysync/internal/logging"
)

// RedisOptions configures the Redis backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key. Default "studysync".
	Prefix      string
	DialTimeout time.Duration
}

// Redis stores documents in Redis hashes.
//
// Key layout:
//
//	<prefix>:<collection>:<id>             hash {doc, owner}
//	<prefix>:<collection>:user:<userID>    set of ids owned by userID
//
// Put and Delete run as MULTI/EXEC so a document and its index entry always
// move together.
type Redis struct {
	rdb    *goredis.Client
	prefix string
	log    *logging.Logger
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, opts RedisOptions, log *logging.Logger) (*Redis, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if opts.Prefix == "" {
		opts.Prefix = "studysync"
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Redis{
		rdb:    rdb,
		prefix: opts.Prefix,
		log:    logging.OrNop(log).With("service", "RedisDocumentStore"),
	}, nil
}

func (r *Redis) docKey(collection, id string) string {
	return r.prefix + ":" + collection + ":" + id
}

func (r *Redis) indexKey(collection, userID string) string {
	return r.prefix + ":" + collection + ":user:" + userID
}

// Put replaces the document and indexes it under userID. If the document
// previously belonged to another user the old index entry is removed.
func (r *Redis) Put(ctx context.Context, collection, id, userID string, doc []byte) error {
	key := r.docKey(collection, id)
	prev, err := r.rdb.HGet(ctx, key, "owner").Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("redis put %s/%s: %w", collection, id, err)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, key, "doc", doc, "owner", userID)
		pipe.SAdd(ctx, r.indexKey(collection, userID), id)
		if prev != "" && prev != userID {
			pipe.SRem(ctx, r.indexKey(collection, prev), id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put %s/%s: %w", collection, id, err)
	}
	return nil
}

// Get returns the document or ErrNotFound.
func (r *Redis) Get(ctx context.Context, collection, id string) ([]byte, error) {
	doc, err := r.rdb.HGet(ctx, r.docKey(collection, id), "doc").Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

// FindByUser returns every document in collection owned by userID. Index
// entries whose document has vanished are skipped.
func (r *Redis) FindByUser(ctx context.Context, collection, userID string) ([][]byte, error) {
	ids, err := r.rdb.SMembers(ctx, r.indexKey(collection, userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis index %s/%s: %w", collection, userID, err)
	}
	if len(ids) == 0 {
		return [][]byte{}, nil
	}

	cmds := make([]*goredis.StringCmd, len(ids))
	_, err = r.rdb.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGet(ctx, r.docKey(collection, id), "doc")
		}
		return nil
	})
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("redis fetch %s/%s: %w", collection, userID, err)
	}

	docs := make([][]byte, 0, len(ids))
	for i, cmd := range cmds {
		doc, err := cmd.Bytes()
		if errors.Is(err, goredis.Nil) {
			r.log.Debug("stale index entry", "collection", collection, "id", ids[i])
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis fetch %s/%s: %w", collection, ids[i], err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Delete removes the document and its index entry. Deleting a missing
// document is not an error.
func (r *Redis) Delete(ctx context.Context, collection, id string) error {
	key := r.docKey(collection, id)
	owner, err := r.rdb.HGet(ctx, key, "owner").Result()
	if errors.Is(err, goredis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis delete %s/%s: %w", collection, id, err)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, r.indexKey(collection, owner), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Close closes the client.
func (r *Redis) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}
