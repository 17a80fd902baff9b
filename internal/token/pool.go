// Package token holds the rotating pool of per-account tokens and the client
// that exchanges access credentials for them.
package token

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/luciancaetano/pixelnet"
)

// Pool hands out tokens round-robin. Safe for concurrent use.
type Pool struct {
	mu        sync.Mutex
	tokens    []pixelnet.Token
	cursor    int
	batchSize int
}

// NewPool creates a pool with the configured batch size. A batchSize <= 0
// means the batch size is bounded by the pool alone.
func NewPool(batchSize int, tokens []pixelnet.Token) *Pool {
	p := &Pool{batchSize: batchSize}
	p.Replace(tokens)
	return p
}

// Next returns the token under the cursor and advances it.
func (p *Pool) Next() (pixelnet.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.tokens) == 0 {
		return pixelnet.Token{}, pixelnet.ErrNoTokens
	}
	tok := p.tokens[p.cursor]
	p.cursor = (p.cursor + 1) % len(p.tokens)
	return tok, nil
}

// Assign returns n consecutive tokens under a single lock, so a batch never
// interleaves with another and no token appears twice in it.
func (p *Pool) Assign(n int) ([]pixelnet.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.tokens) == 0 {
		return nil, pixelnet.ErrNoTokens
	}
	if n > len(p.tokens) {
		return nil, &pixelnet.CapacityError{Size: n, Limit: len(p.tokens)}
	}
	out := make([]pixelnet.Token, n)
	for i := range out {
		out[i] = p.tokens[p.cursor]
		p.cursor = (p.cursor + 1) % len(p.tokens)
	}
	return out, nil
}

// Replace swaps the whole pool and resets the cursor.
func (p *Pool) Replace(tokens []pixelnet.Token) {
	cp := make([]pixelnet.Token, len(tokens))
	copy(cp, tokens)

	p.mu.Lock()
	p.tokens = cp
	p.cursor = 0
	p.mu.Unlock()
}

// Len returns the number of tokens in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tokens)
}

// BatchSize returns min(configured batch size, pool size).
func (p *Pool) BatchSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.batchSize <= 0 || p.batchSize > len(p.tokens) {
		return len(p.tokens)
	}
	return p.batchSize
}

// Parse decodes a token as handed out by the token service: 32 hex digits,
// with or without UUID dashes.
func Parse(accountID uint32, s string) (pixelnet.Token, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return pixelnet.Token{}, fmt.Errorf("%w: account %d: %v", pixelnet.ErrInvalidToken, accountID, err)
	}
	b := make([]byte, pixelnet.TokenSize)
	copy(b, id[:])
	return pixelnet.Token{AccountID: accountID, Bytes: b}, nil
}

// FromBytes builds a token from raw bytes, failing unless there are exactly
// TokenSize of them.
func FromBytes(accountID uint32, b []byte) (pixelnet.Token, error) {
	id, err := uuid.FromBytes(b)
	if err != nil {
		return pixelnet.Token{}, fmt.Errorf("%w: account %d: %v", pixelnet.ErrInvalidToken, accountID, err)
	}
	out := make([]byte, pixelnet.TokenSize)
	copy(out, id[:])
	return pixelnet.Token{AccountID: accountID, Bytes: out}, nil
}
