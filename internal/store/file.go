package store

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	sealedMagic = "SGS1"
	saltLen     = 16

	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1
)

var ErrUnreadable = errors.New("credential file unreadable")

// FileBackend keeps the local area in a single JSON document on disk,
// optionally sealed with XChaCha20-Poly1305 under an Argon2id key. The
// session area lives in memory only and dies with the process.
type FileBackend struct {
	path       string
	passphrase []byte

	mu      sync.Mutex
	session map[string]string
	salt    []byte
	key     []byte
}

func NewFileBackend(path string, passphrase string) (*FileBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("credential file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("prepare credential directory: %w", err)
	}

	var pass []byte
	if passphrase != "" {
		pass = []byte(passphrase)
	}
	return &FileBackend{path: path, passphrase: pass, session: map[string]string{}}, nil
}

func (f *FileBackend) Get(_ context.Context, area Area, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if area == AreaSession {
		value, ok := f.session[key]
		return value, ok, nil
	}

	doc, err := f.load()
	if err != nil {
		return "", false, err
	}
	value, ok := doc[key]
	return value, ok, nil
}

func (f *FileBackend) Apply(ctx context.Context, ops []Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if errors.Is(err, ErrUnreadable) {
		slog.Warn("credential file unreadable; starting from an empty document", "path", f.path, "error", err)
		doc = map[string]string{}
	} else if err != nil {
		return err
	}

	areas := map[Area]map[string]string{AreaLocal: doc, AreaSession: f.session}
	applyOps(areas, ops)

	f.session = areas[AreaSession]
	if f.session == nil {
		f.session = map[string]string{}
	}

	if !touchesLocal(ops) {
		return nil
	}

	local := areas[AreaLocal]
	if local == nil {
		local = map[string]string{}
	}
	return f.write(local)
}

func touchesLocal(ops []Op) bool {
	for _, op := range ops {
		if op.Area == AreaLocal {
			return true
		}
	}
	return false
}

func (f *FileBackend) load() (map[string]string, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credential file: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]string{}, nil
	}

	plain := raw
	if f.passphrase != nil {
		plain, err = f.open(raw)
		if err != nil {
			return nil, err
		}
	}

	doc := map[string]string{}
	if err := json.Unmarshal(plain, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return doc, nil
}

func (f *FileBackend) write(doc map[string]string) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode credential document: %w", err)
	}
	if f.passphrase != nil {
		data, err = f.seal(data)
		if err != nil {
			return err
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".credentials-*")
	if err != nil {
		return fmt.Errorf("create temp credential file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp credential file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp credential file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod credential file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace credential file: %w", err)
	}
	return nil
}

func (f *FileBackend) seal(plain []byte) ([]byte, error) {
	if f.salt == nil {
		salt := make([]byte, saltLen)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
		f.salt = salt
		f.key = nil
	}

	aead, err := chacha20poly1305.NewX(f.deriveKey(f.salt))
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, len(sealedMagic)+saltLen+len(nonce)+len(plain)+aead.Overhead())
	out = append(out, sealedMagic...)
	out = append(out, f.salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plain, []byte(sealedMagic)), nil
}

func (f *FileBackend) open(sealed []byte) ([]byte, error) {
	header := len(sealedMagic) + saltLen + chacha20poly1305.NonceSizeX
	if len(sealed) < header || string(sealed[:len(sealedMagic)]) != sealedMagic {
		return nil, fmt.Errorf("%w: missing sealed header", ErrUnreadable)
	}

	salt := sealed[len(sealedMagic) : len(sealedMagic)+saltLen]
	nonce := sealed[len(sealedMagic)+saltLen : header]

	aead, err := chacha20poly1305.NewX(f.deriveKey(salt))
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, nonce, sealed[header:], []byte(sealedMagic))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	return plain, nil
}

// deriveKey caches the key for the most recently seen salt.
func (f *FileBackend) deriveKey(salt []byte) []byte {
	if f.key != nil && bytes.Equal(salt, f.salt) {
		return f.key
	}
	f.salt = append([]byte(nil), salt...)
	f.key = argon2.IDKey(f.passphrase, f.salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
	return f.key
}
