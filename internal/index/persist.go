package index

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// On-disk layout: one directory per document, holding a packed vector file
// and a JSON metadata table keyed by position. The two files are always
// rewritten together; a count or dimension disagreement between them means
// a partial write or external tampering and fails the load with ErrCorrupt.
const (
	vectorsFile = "vectors.bin"
	metaFile    = "meta.json"

	vectorsMagic  = "AVIX"
	formatVersion = uint16(1)
)

type partitionMeta struct {
	DocumentID string  `json:"document_id"`
	Dim        int     `json:"dim"`
	Count      int     `json:"count"`
	Entries    []Entry `json:"entries"`
}

func metricByte(m Metric) uint8 {
	if m == MetricL2 {
		return 1
	}
	return 0
}

func (s *Store) partitionDir(documentID string) string {
	return filepath.Join(s.dir, sanitizeID(documentID))
}

// sanitizeID maps a document ID to a unique safe directory name. IDs are
// UUIDs in practice and pass through unchanged; anything else is hex
// encoded under an "h-" prefix so two distinct IDs can never share a
// directory. Plain IDs never start with "h-", which keeps the mapping
// injective.
func sanitizeID(id string) string {
	if plainID(id) {
		return id
	}
	return "h-" + hex.EncodeToString([]byte(id))
}

func plainID(id string) bool {
	if id == "" || id == "." || id == ".." || strings.HasPrefix(id, "h-") {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}

// writePartition persists entries and vectors atomically: both files are
// written to temporary names and renamed into place, so a crash mid-write
// leaves the previous partition contents intact.
func writePartition(dir, documentID string, metric Metric, dim int, entries []Entry, vectors [][]float32) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.WriteString(vectorsMagic)
	if err := binary.Write(&buf, binary.LittleEndian, formatVersion); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.LittleEndian, metricByte(metric)); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(dim)); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(vectors))); err != nil {
		return err
	}
	for _, v := range vectors {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	meta := partitionMeta{
		DocumentID: documentID,
		Dim:        dim,
		Count:      len(entries),
		Entries:    entries,
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	vecPath := filepath.Join(dir, vectorsFile)
	metaPath := filepath.Join(dir, metaFile)
	vecTmp := vecPath + ".tmp"
	metaTmp := metaPath + ".tmp"

	if err := os.WriteFile(vecTmp, buf.Bytes(), 0644); err != nil {
		return err
	}
	if err := os.WriteFile(metaTmp, metaBytes, 0644); err != nil {
		os.Remove(vecTmp)
		return err
	}
	if err := os.Rename(vecTmp, vecPath); err != nil {
		os.Remove(vecTmp)
		os.Remove(metaTmp)
		return err
	}
	return os.Rename(metaTmp, metaPath)
}

// loadPartition reads one partition directory back into memory and
// cross-checks the vector file against the metadata table and against the
// configured metric and dimension.
func loadPartition(dir string, metric Metric, dim int) (string, []Entry, [][]float32, error) {
	raw, err := os.ReadFile(filepath.Join(dir, vectorsFile))
	if err != nil {
		return "", nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	r := bytes.NewReader(raw)
	head := make([]byte, len(vectorsMagic))
	if _, err := r.Read(head); err != nil || string(head) != vectorsMagic {
		return "", nil, nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil || version != formatVersion {
		return "", nil, nil, fmt.Errorf("%w: unsupported format version", ErrCorrupt)
	}
	var storedMetric uint8
	if err := binary.Read(r, binary.LittleEndian, &storedMetric); err != nil {
		return "", nil, nil, fmt.Errorf("%w: truncated header", ErrCorrupt)
	}
	if storedMetric != metricByte(metric) {
		return "", nil, nil, fmt.Errorf("%w: stored metric differs from configured %q", ErrCorrupt, metric)
	}
	var storedDim, count uint32
	if err := binary.Read(r, binary.LittleEndian, &storedDim); err != nil {
		return "", nil, nil, fmt.Errorf("%w: truncated header", ErrCorrupt)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return "", nil, nil, fmt.Errorf("%w: truncated header", ErrCorrupt)
	}
	if int(storedDim) != dim {
		return "", nil, nil, fmt.Errorf("%w: stored dimension %d, index expects %d", ErrCorrupt, storedDim, dim)
	}
	if r.Len() != int(count)*dim*4 {
		return "", nil, nil, fmt.Errorf("%w: vector data size does not match header", ErrCorrupt)
	}

	vectors := make([][]float32, count)
	for i := range vectors {
		v := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return "", nil, nil, fmt.Errorf("%w: truncated vector data", ErrCorrupt)
		}
		vectors[i] = v
	}

	metaBytes, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		return "", nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	var meta partitionMeta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return "", nil, nil, fmt.Errorf("%w: unreadable metadata: %v", ErrCorrupt, err)
	}
	if meta.Dim != dim || meta.Count != int(count) || len(meta.Entries) != int(count) {
		return "", nil, nil, fmt.Errorf("%w: metadata disagrees with vector file", ErrCorrupt)
	}
	if meta.DocumentID == "" {
		return "", nil, nil, fmt.Errorf("%w: metadata missing document id", ErrCorrupt)
	}

	return meta.DocumentID, meta.Entries, vectors, nil
}
