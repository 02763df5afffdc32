package trajectory

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/sona-engine/agentdb/internal/mathx"
	"github.com/sona-engine/agentdb/pkg/models"
)

var magic = [4]byte{'T', 'R', 'A', 'J'}

const (
	v1HeaderSize = 16
	v2HeaderSize = 20
)

// encodeRecord marshals t to JSON, optionally wrapping it in an LZ4 frame.
func encodeRecord(t models.Trajectory, compress bool) ([]byte, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal trajectory %s: %w", t.ID, err)
	}
	if !compress {
		return body, nil
	}
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(body); err != nil {
		return nil, fmt.Errorf("lz4 compress trajectory %s: %w", t.ID, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 close trajectory %s: %w", t.ID, err)
	}
	return buf.Bytes(), nil
}

// decodeRecord reverses encodeRecord, transparently detecting an LZ4 frame.
func decodeRecord(body []byte) (models.Trajectory, error) {
	var t models.Trajectory
	if mathx.IsLZ4Frame(body) {
		r := lz4.NewReader(bytes.NewReader(body))
		raw, err := io.ReadAll(r)
		if err != nil {
			return t, fmt.Errorf("lz4 decompress record: %w", err)
		}
		body = raw
	}
	if err := json.Unmarshal(body, &t); err != nil {
		return t, fmt.Errorf("unmarshal record: %w", err)
	}
	return t, nil
}

// encodedRecordBytes returns t as a length-prefixed record ready to append to
// a data file.
func encodedRecordBytes(t models.Trajectory, compress bool) ([]byte, error) {
	body, err := encodeRecord(t, compress)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(body)))
	copy(out[4:], body)
	return out, nil
}

// encodeFile builds a complete data file for the given format version.
func encodeFile(version int, trajectories []models.Trajectory, rollback models.RollbackState, compress bool) ([]byte, error) {
	var recordBuf bytes.Buffer
	for _, t := range trajectories {
		rec, err := encodedRecordBytes(t, compress)
		if err != nil {
			return nil, err
		}
		recordBuf.Write(rec)
	}

	switch version {
	case 1:
		header := make([]byte, v1HeaderSize)
		copy(header[0:4], magic[:])
		binary.LittleEndian.PutUint32(header[4:8], 1)
		binary.LittleEndian.PutUint32(header[8:12], uint32(len(trajectories)))
		binary.LittleEndian.PutUint32(header[12:16], 0) // reserved
		return append(header, recordBuf.Bytes()...), nil

	case 2:
		rollbackJSON, err := json.Marshal(rollback)
		if err != nil {
			return nil, fmt.Errorf("marshal rollback state: %w", err)
		}
		rollbackOffset := v2HeaderSize + recordBuf.Len()

		header := make([]byte, v2HeaderSize)
		copy(header[0:4], magic[:])
		binary.LittleEndian.PutUint32(header[4:8], 2)
		binary.LittleEndian.PutUint32(header[8:12], uint32(len(trajectories)))
		binary.LittleEndian.PutUint32(header[12:16], 0) // checksum placeholder
		binary.LittleEndian.PutUint32(header[16:20], uint32(rollbackOffset))

		buf := make([]byte, 0, rollbackOffset+len(rollbackJSON))
		buf = append(buf, header...)
		buf = append(buf, recordBuf.Bytes()...)
		buf = append(buf, rollbackJSON...)

		checksum := mathx.CRC32IEEE(buf)
		binary.LittleEndian.PutUint32(buf[12:16], checksum)
		return buf, nil

	default:
		return nil, fmt.Errorf("unsupported format version %d", version)
	}
}

// decodedFile is the result of reading a data file back.
type decodedFile struct {
	Version          int
	Trajectories     []models.Trajectory
	Offsets          []int64 // byte offset of each record's length prefix
	Sizes            []int64 // length-prefix + body, per record
	Rollback         *models.RollbackState
	ChecksumMismatch bool
}

// decodeFile parses a data file, stopping at the first corrupted record
// (bad length or truncated body) while preserving everything decoded so
// far. A V2 checksum mismatch sets ChecksumMismatch rather than failing.
func decodeFile(buf []byte) (*decodedFile, error) {
	if len(buf) < 4 || !bytes.Equal(buf[0:4], magic[:]) {
		return nil, fmt.Errorf("missing TRAJ magic")
	}
	if len(buf) < 12 {
		return nil, fmt.Errorf("data file too short for header")
	}
	version := int(binary.LittleEndian.Uint32(buf[4:8]))
	recordCount := int(binary.LittleEndian.Uint32(buf[8:12]))

	var headerSize int
	var checksumMismatch bool
	var declaredRollbackOffset int

	switch version {
	case 1:
		if len(buf) < v1HeaderSize {
			return nil, fmt.Errorf("v1 data file too short")
		}
		headerSize = v1HeaderSize
	case 2:
		if len(buf) < v2HeaderSize {
			return nil, fmt.Errorf("v2 data file too short")
		}
		headerSize = v2HeaderSize
		declaredRollbackOffset = int(binary.LittleEndian.Uint32(buf[16:20]))
		declaredChecksum := binary.LittleEndian.Uint32(buf[12:16])

		verifyBuf := make([]byte, len(buf))
		copy(verifyBuf, buf)
		binary.LittleEndian.PutUint32(verifyBuf[12:16], 0)
		if mathx.CRC32IEEE(verifyBuf) != declaredChecksum {
			checksumMismatch = true
		}
	default:
		return nil, fmt.Errorf("unsupported format version %d", version)
	}

	recordsEnd := len(buf)
	if version == 2 && declaredRollbackOffset > 0 && declaredRollbackOffset <= len(buf) {
		recordsEnd = declaredRollbackOffset
	}

	result := &decodedFile{Version: version, ChecksumMismatch: checksumMismatch}
	offset := headerSize
	for i := 0; i < recordCount && offset < recordsEnd; i++ {
		if offset+4 > recordsEnd {
			break // truncated length prefix; stop, keep what we have
		}
		length := int(binary.LittleEndian.Uint32(buf[offset : offset+4]))
		bodyStart := offset + 4
		bodyEnd := bodyStart + length
		if length < 0 || bodyEnd > recordsEnd {
			break // truncated or corrupt body
		}
		t, err := decodeRecord(buf[bodyStart:bodyEnd])
		if err != nil {
			break // corrupt record; preserve earlier ones
		}
		result.Trajectories = append(result.Trajectories, t)
		result.Offsets = append(result.Offsets, int64(offset))
		result.Sizes = append(result.Sizes, int64(bodyEnd-offset))
		offset = bodyEnd
	}

	if version == 2 && declaredRollbackOffset > 0 && declaredRollbackOffset < len(buf) {
		var rb models.RollbackState
		if err := json.Unmarshal(buf[declaredRollbackOffset:], &rb); err == nil {
			result.Rollback = &rb
		}
	}

	return result, nil
}
