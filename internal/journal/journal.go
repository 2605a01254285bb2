// Package journal implements the append-only write-ahead log described in
// spec §4.3: one length-prefixed, CRC-checked frame per committed
// transaction, fsync'd before the database commit is acknowledged, with
// rotation and idempotent replay.
//
// Grounded on the teacher's plain os.File + binary framing style (GoClode
// has no journal of its own, but reaches for raw os.File I/O rather than a
// third-party log library wherever it touches the filesystem); no pack
// example implements a WAL, so the frame format below is original to this
// codebase.
package journal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quillgraph/quill/internal/change"
	"github.com/quillgraph/quill/internal/quillerr"
)

// filePrefix names journal files: quill-journal.<6-digit-seq>.
const filePrefix = "quill-journal."

// Journal manages the active journal file and rotation within dataDir.
type Journal struct {
	mu          sync.Mutex
	dataDir     string
	file        *os.File
	writer      *bufio.Writer
	seq         int
	bytesInFile int64
	chunkBytes  int64 // 0 disables rotation
	rotateDest  string
	log         zerolog.Logger
}

// Open opens (creating if needed) the highest-numbered journal file in
// dataDir, appending to it.
func Open(dataDir string, chunkMiB int, rotateDest string, log zerolog.Logger) (*Journal, error) {
	seq, err := latestSeq(dataDir)
	if err != nil {
		return nil, err
	}
	if seq == 0 {
		seq = 1
	}
	j := &Journal{
		dataDir:    dataDir,
		seq:        seq,
		chunkBytes: int64(chunkMiB) << 20,
		rotateDest: rotateDest,
		log:        log,
	}
	if err := j.openFile(seq); err != nil {
		return nil, err
	}
	return j, nil
}

func latestSeq(dataDir string) (int, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, quillerr.New(quillerr.KindIO, err, "read data dir")
	}
	max := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), filePrefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(e.Name(), filePrefix))
		if err == nil && n > max {
			max = n
		}
	}
	return max, nil
}

func (j *Journal) path(seq int) string {
	return filepath.Join(j.dataDir, fmt.Sprintf("%s%06d", filePrefix, seq))
}

func (j *Journal) openFile(seq int) error {
	path := j.path(seq)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return quillerr.New(quillerr.KindIO, err, "open journal file %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return quillerr.New(quillerr.KindIO, err, "stat journal file %s", path)
	}
	j.file = f
	j.writer = bufio.NewWriter(f)
	j.bytesInFile = info.Size()
	j.seq = seq
	return nil
}

// Frame is one committed transaction's worth of operations.
type Frame struct {
	TxnID     uuid.UUID
	Timestamp time.Time
	Ops       []change.Op
}

// Append serialises frame, fsyncs it, and rotates the active file first if
// the new frame would push it past the configured chunk threshold.
func (j *Journal) Append(frame Frame) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	payload := encodeFrame(frame)
	frameLen := len(payload)

	if j.chunkBytes > 0 && j.bytesInFile > 0 && j.bytesInFile+int64(frameLen)+8 > j.chunkBytes {
		if err := j.rotateLocked(); err != nil {
			return err
		}
	}

	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(frameLen))
	crc := crc32.ChecksumIEEE(payload)
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], crc)

	if _, err := j.writer.Write(header[:]); err != nil {
		return quillerr.New(quillerr.KindIO, err, "write journal frame header")
	}
	if _, err := j.writer.Write(payload); err != nil {
		return quillerr.New(quillerr.KindIO, err, "write journal frame payload")
	}
	if _, err := j.writer.Write(crcBuf[:]); err != nil {
		return quillerr.New(quillerr.KindIO, err, "write journal frame crc")
	}
	if err := j.writer.Flush(); err != nil {
		return quillerr.New(quillerr.KindIO, err, "flush journal writer")
	}
	if err := j.file.Sync(); err != nil {
		return quillerr.New(quillerr.KindIO, err, "fsync journal")
	}
	j.bytesInFile += int64(frameLen) + 8
	return nil
}

func (j *Journal) rotateLocked() error {
	j.writer.Flush()
	oldPath := j.file.Name()
	j.file.Close()

	if err := j.openFile(j.seq + 1); err != nil {
		return err
	}
	if j.rotateDest != "" {
		j.log.Debug().Str("rotated_from", oldPath).Str("destination", j.rotateDest).Msg("journal rotated; awaiting external consumer")
	}
	return nil
}

// Close flushes and closes the active file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.writer.Flush()
	return j.file.Close()
}

// Files returns every journal file path in dataDir, oldest first.
func Files(dataDir string) ([]string, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, quillerr.New(quillerr.KindIO, err, "read data dir")
	}
	type seqPath struct {
		seq  int
		path string
	}
	var sps []seqPath
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), filePrefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(e.Name(), filePrefix))
		if err != nil {
			continue
		}
		sps = append(sps, seqPath{n, filepath.Join(dataDir, e.Name())})
	}
	sort.Slice(sps, func(i, j int) bool { return sps[i].seq < sps[j].seq })
	out := make([]string, len(sps))
	for i, sp := range sps {
		out[i] = sp.path
	}
	return out, nil
}

// ReadAll reads and decodes every well-formed frame across all journal
// files in dataDir, in commit order. A truncated trailing frame (a crash
// mid-append) is silently dropped rather than failing replay, matching
// spec §4.3's "an interrupted write leaves either all or none of its ops
// visible".
func ReadAll(dataDir string) ([]Frame, error) {
	files, err := Files(dataDir)
	if err != nil {
		return nil, err
	}
	var frames []Frame
	for _, path := range files {
		fframes, err := readFile(path)
		if err != nil {
			return nil, err
		}
		frames = append(frames, fframes...)
	}
	return frames, nil
}

func readFile(path string) ([]Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, quillerr.New(quillerr.KindIO, err, "open journal file %s", path)
	}
	defer f.Close()

	var frames []Frame
	r := bufio.NewReader(f)
	for {
		var header [4]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			break // EOF or truncated header: stop, don't fail
		}
		length := binary.LittleEndian.Uint32(header[:])
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			break // truncated payload from a crash mid-append
		}
		var crcBuf [4]byte
		if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
			break
		}
		wantCRC := binary.LittleEndian.Uint32(crcBuf[:])
		if crc32.ChecksumIEEE(payload) != wantCRC {
			break // corrupt trailing frame; stop replay here
		}
		frame, err := decodeFrame(payload)
		if err != nil {
			break
		}
		frames = append(frames, frame)
	}
	return frames, nil
}
