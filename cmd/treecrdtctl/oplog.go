package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/cybersemics/treecrdt-sub002/storage/memory"
	"github.com/cybersemics/treecrdt-sub002/tree"
	"github.com/cybersemics/treecrdt-sub002/wire"
)

// loadOpLog reads a newline-delimited, hex-encoded CBOR SignedOperation
// file into a fresh in-memory backend. Blank lines and lines starting with
// '#' are ignored.
func loadOpLog(path string, docID []byte, opts ...tree.Option) (*memory.Backend, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	codec, err := wire.NewCodec()
	if err != nil {
		return nil, err
	}

	backend := memory.New(docID, opts...)
	var sops []*wire.SignedOperation
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		raw, err := hex.DecodeString(line)
		if err != nil {
			return nil, fmt.Errorf("decode hex line: %w", err)
		}
		sop, err := codec.UnmarshalSignedOp(raw)
		if err != nil {
			return nil, fmt.Errorf("decode op: %w", err)
		}
		sops = append(sops, sop)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(sops) > 0 {
		if _, err := backend.AppendMany(sops); err != nil {
			return nil, fmt.Errorf("apply log: %w", err)
		}
	}
	return backend, nil
}
