// Package container is the save file wrapper: a zstd stream holding one JSON
// header line followed by a gob-encoded map of data id to blob.
package container

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	Version = 1
	Suffix  = ".save.zst"
)

type Header struct {
	Version   int    `json:"version"`
	SessionID string `json:"session_id"`
	Tick      uint64 `json:"tick"`
	SavedAt   string `json:"saved_at"`
}

type File struct {
	Header Header
	Data   map[string][]byte
}

func New(sessionID string, tick uint64) File {
	return File{
		Header: Header{
			Version:   Version,
			SessionID: sessionID,
			Tick:      tick,
			SavedAt:   time.Now().UTC().Format(time.RFC3339),
		},
		Data: map[string][]byte{},
	}
}

// Encode writes f to w.
func Encode(w io.Writer, f File) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	if f.Header.Version == 0 {
		f.Header.Version = Version
	}
	hb, _ := json.Marshal(f.Header)
	if _, err := bw.Write(hb); err != nil {
		enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		enc.Close()
		return err
	}
	if f.Data == nil {
		f.Data = map[string][]byte{}
	}
	if err := gob.NewEncoder(bw).Encode(f.Data); err != nil {
		enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func Decode(r io.Reader) (File, error) {
	var f File
	dec, err := zstd.NewReader(r)
	if err != nil {
		return f, err
	}
	defer dec.Close()
	br := bufio.NewReaderSize(dec, 64*1024)

	line, err := br.ReadBytes('\n')
	if err != nil {
		return f, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &f.Header); err != nil {
		return f, fmt.Errorf("parse header: %w", err)
	}
	if f.Header.Version > Version {
		return f, fmt.Errorf("unsupported container version %d", f.Header.Version)
	}
	if err := gob.NewDecoder(br).Decode(&f.Data); err != nil {
		return f, fmt.Errorf("gob decode: %w", err)
	}
	if f.Data == nil {
		f.Data = map[string][]byte{}
	}
	return f, nil
}

func Marshal(f File) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Unmarshal(b []byte) (File, error) { return Decode(bytes.NewReader(b)) }

// Write stores f at path, replacing any existing file only once the new one
// is complete.
func Write(path string, f File) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := Encode(out, f); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func Read(path string) (File, error) {
	in, err := os.Open(path)
	if err != nil {
		return File{}, err
	}
	defer in.Close()
	return Decode(in)
}

// PathFor names the save taken at tick inside dir.
func PathFor(dir string, tick uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%012d%s", tick, Suffix))
}

// Latest returns the save with the highest tick in dir, or "" when there is
// none.
func Latest(dir string) (string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	type cand struct {
		tick uint64
		name string
	}
	var cands []cand
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Suffix) {
			continue
		}
		t, err := strconv.ParseUint(strings.TrimSuffix(e.Name(), Suffix), 10, 64)
		if err != nil {
			continue
		}
		cands = append(cands, cand{t, e.Name()})
	}
	if len(cands) == 0 {
		return "", nil
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].tick > cands[j].tick })
	return filepath.Join(dir, cands[0].name), nil
}
