// Package rng supplies the random draws behind prize wheel spins.
//
// Trust assumption: the operator controls the source. CryptoSource is
// unpredictable to users but unverifiable; SeedHashSource commits to a server
// seed up front so every draw can be checked once the seed is revealed.
package rng

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Draw is one uniform value in [0, n) plus whatever proof the source can give
type Draw struct {
	Value      uint64 `json:"value"`
	Commitment string `json:"commitment,omitempty"`
	ClientSeed string `json:"client_seed,omitempty"`
	Nonce      uint64 `json:"nonce,omitempty"`
}

// Source draws uniform integers in [0, n)
type Source interface {
	Draw(ctx context.Context, n uint64, clientSeed string) (Draw, error)
}

// CryptoSource draws from crypto/rand
type CryptoSource struct{}

func (CryptoSource) Draw(ctx context.Context, n uint64, clientSeed string) (Draw, error) {
	if n == 0 {
		return Draw{}, fmt.Errorf("draw range must be positive")
	}
	v, err := rand.Int(rand.Reader, new(big.Int).SetUint64(n))
	if err != nil {
		return Draw{}, fmt.Errorf("crypto/rand: %w", err)
	}
	return Draw{Value: v.Uint64()}, nil
}

// SeedHashSource is a commit-reveal source. Each value is
// keccak256(serverSeed || clientSeed || nonce) mod n, and the keccak256 of
// the server seed is published before any draw is made with it.
type SeedHashSource struct {
	mu    sync.Mutex
	seed  []byte
	nonce uint64
}

// NewSeedHashSource creates a source with a fresh random server seed
func NewSeedHashSource() (*SeedHashSource, error) {
	seed, err := newSeed()
	if err != nil {
		return nil, err
	}
	return &SeedHashSource{seed: seed}, nil
}

// Commitment returns the hash of the active server seed
func (s *SeedHashSource) Commitment() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return commitment(s.seed)
}

// Rotate replaces the server seed and returns the old one for verification
func (s *SeedHashSource) Rotate() (revealed string, err error) {
	seed, err := newSeed()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	revealed = hex.EncodeToString(s.seed)
	s.seed = seed
	s.nonce = 0
	return revealed, nil
}

func (s *SeedHashSource) Draw(ctx context.Context, n uint64, clientSeed string) (Draw, error) {
	if n == 0 {
		return Draw{}, fmt.Errorf("draw range must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nonce++
	return Draw{
		Value:      derive(s.seed, clientSeed, s.nonce, n),
		Commitment: commitment(s.seed),
		ClientSeed: clientSeed,
		Nonce:      s.nonce,
	}, nil
}

// Verify recomputes a draw from a revealed server seed
func Verify(revealedSeed string, d Draw, n uint64) (bool, error) {
	seed, err := hex.DecodeString(revealedSeed)
	if err != nil {
		return false, fmt.Errorf("decode seed: %w", err)
	}
	if commitment(seed) != d.Commitment {
		return false, nil
	}
	return derive(seed, d.ClientSeed, d.Nonce, n) == d.Value, nil
}

func derive(seed []byte, clientSeed string, nonce, n uint64) uint64 {
	var nb [8]byte
	binary.BigEndian.PutUint64(nb[:], nonce)
	h := crypto.Keccak256(seed, []byte(clientSeed), nb[:])
	v := new(uint256.Int).SetBytes(h)
	return v.Mod(v, uint256.NewInt(n)).Uint64()
}

func commitment(seed []byte) string {
	return crypto.Keccak256Hash(seed).Hex()
}

func newSeed() ([]byte, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("crypto/rand: %w", err)
	}
	return seed, nil
}

// Fixed replays a scripted sequence of values, wrapping around. For tests and simulations.
type Fixed struct {
	mu     sync.Mutex
	values []uint64
	next   int
}

// NewFixed returns a source that yields values in order
func NewFixed(values ...uint64) *Fixed {
	return &Fixed{values: values}
}

func (f *Fixed) Draw(ctx context.Context, n uint64, clientSeed string) (Draw, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.values) == 0 {
		return Draw{}, fmt.Errorf("no scripted values")
	}
	v := f.values[f.next%len(f.values)]
	f.next++
	if v >= n {
		return Draw{}, fmt.Errorf("scripted value %d out of range [0,%d)", v, n)
	}
	return Draw{Value: v}, nil
}
