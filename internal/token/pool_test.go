package token

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/pixelnet"
)

func makeTokens(n int) []pixelnet.Token {
	out := make([]pixelnet.Token, n)
	for i := range out {
		b := make([]byte, pixelnet.TokenSize)
		b[0] = byte(i)
		out[i] = pixelnet.Token{AccountID: uint32(1000 + i), Bytes: b}
	}
	return out
}

func accounts(toks []pixelnet.Token) []uint32 {
	out := make([]uint32, len(toks))
	for i, t := range toks {
		out[i] = t.AccountID
	}
	return out
}

// TestPoolRoundRobin tests that Next cycles through the pool in order
func TestPoolRoundRobin(t *testing.T) {
	t.Parallel()

	p := NewPool(10, makeTokens(3))

	var got []uint32
	for i := 0; i < 7; i++ {
		tok, err := p.Next()
		require.NoError(t, err)
		got = append(got, tok.AccountID)
	}
	assert.Equal(t, []uint32{1000, 1001, 1002, 1000, 1001, 1002, 1000}, got)
}

func TestPoolEmpty(t *testing.T) {
	t.Parallel()

	p := NewPool(10, nil)

	_, err := p.Next()
	assert.ErrorIs(t, err, pixelnet.ErrNoTokens)

	_, err = p.Assign(1)
	assert.ErrorIs(t, err, pixelnet.ErrNoTokens)

	assert.Zero(t, p.BatchSize())
	assert.Zero(t, p.Len())
}

// TestPoolAssignDistinct tests that a batch never holds the same token twice
func TestPoolAssignDistinct(t *testing.T) {
	t.Parallel()

	p := NewPool(10, makeTokens(4))

	first, err := p.Assign(3)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1000, 1001, 1002}, accounts(first))

	second, err := p.Assign(4)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1003, 1000, 1001, 1002}, accounts(second))

	_, err = p.Assign(5)
	var capErr *pixelnet.CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 5, capErr.Size)
	assert.Equal(t, 4, capErr.Limit)
}

func TestPoolBatchSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		configured int
		tokens     int
		want       int
	}{
		{name: "pool smaller than configured", configured: 10, tokens: 3, want: 3},
		{name: "pool larger than configured", configured: 10, tokens: 50, want: 10},
		{name: "equal", configured: 5, tokens: 5, want: 5},
		{name: "unbounded configuration", configured: 0, tokens: 7, want: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := NewPool(tt.configured, makeTokens(tt.tokens))
			assert.Equal(t, tt.want, p.BatchSize())
		})
	}
}

// TestPoolReplace tests that replacing the pool resets the cursor and the
// effective batch size
func TestPoolReplace(t *testing.T) {
	t.Parallel()

	toks := makeTokens(2)
	p := NewPool(10, toks)
	_, _ = p.Next()

	p.Replace(makeTokens(6))
	assert.Equal(t, 6, p.Len())
	assert.Equal(t, 6, p.BatchSize())

	tok, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), tok.AccountID)

	// the pool keeps its own copy
	toks[0].AccountID = 1
	p.Replace(toks)
	toks[0].AccountID = 2
	tok, err = p.Next()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), tok.AccountID)
}

// TestPoolConcurrentAssign tests that concurrent batches draw disjoint
// slices of the rotation
func TestPoolConcurrentAssign(t *testing.T) {
	t.Parallel()

	const (
		workers = 8
		rounds  = 50
		size    = 5
	)
	p := NewPool(size, makeTokens(size*workers))

	var mu sync.Mutex
	counts := make(map[uint32]int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				batch, err := p.Assign(size)
				if err != nil {
					t.Errorf("Assign: %v", err)
					return
				}
				seen := make(map[uint32]bool, size)
				for _, tok := range batch {
					if seen[tok.AccountID] {
						t.Errorf("token %d assigned twice in one batch", tok.AccountID)
					}
					seen[tok.AccountID] = true
				}
				mu.Lock()
				for id := range seen {
					counts[id]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// workers*rounds*size draws over size*workers tokens, evenly
	for id, n := range counts {
		assert.Equal(t, rounds, n, "token %d", id)
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    []byte
		wantErr bool
	}{
		{
			name:  "plain hex",
			input: "00112233445566778899aabbccddeeff",
			want:  []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		},
		{
			name:  "dashed",
			input: "00112233-4455-6677-8899-aabbccddeeff",
			want:  []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		},
		{name: "too short", input: "0011", wantErr: true},
		{name: "not hex", input: "zz112233445566778899aabbccddeeff", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tok, err := Parse(42, tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, pixelnet.ErrInvalidToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, uint32(42), tok.AccountID)
			assert.Equal(t, tt.want, tok.Bytes)
		})
	}
}

func TestFromBytes(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 15, 17} {
		_, err := FromBytes(1, make([]byte, n))
		assert.ErrorIs(t, err, pixelnet.ErrInvalidToken, fmt.Sprintf("len %d", n))
	}

	tok, err := FromBytes(1, make([]byte, pixelnet.TokenSize))
	require.NoError(t, err)
	assert.Len(t, tok.Bytes, pixelnet.TokenSize)
}
