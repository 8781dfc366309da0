package index

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/jinford/recipe-lab/internal/core/document"
)

const (
	// VectorsFile はバイナリのベクトルインデックスファイル名
	VectorsFile = "vectors.index"
	// ChunksFile はチャンクメタデータ（JSON）のファイル名
	ChunksFile = "chunks.json"

	formatVersion uint16 = 2
)

var magic = [4]byte{'R', 'L', 'V', 'X'}

// Meta はインデックスのビルド情報
type Meta struct {
	BuildID        uuid.UUID
	EmbeddingModel string
}

// Store はベクトルインデックスと、位置で1対1に対応するチャンクメタデータの組
// Chunks[i] は Index の位置 i のベクトルに対応する
type Store struct {
	Index  *FlatIndex
	Chunks []document.Chunk
	Meta   Meta
}

// NewStore は件数の整合性を検証して Store を作成する
func NewStore(idx *FlatIndex, chunks []document.Chunk, meta Meta) (*Store, error) {
	if idx.Len() != len(chunks) {
		return nil, fmt.Errorf("%w: %d vectors but %d chunks", ErrCorruptIndex, idx.Len(), len(chunks))
	}
	if meta.BuildID == uuid.Nil {
		meta.BuildID = uuid.New()
	}
	return &Store{Index: idx, Chunks: chunks, Meta: meta}, nil
}

// Search は Index.Search の委譲
func (s *Store) Search(query []float32, topK int) ([]Hit, error) {
	return s.Index.Search(query, topK)
}

// Save は dir にベクトルファイルとチャンクファイルを書き出す
// それぞれ一時ファイルに書いてからリネームする
func (s *Store) Save(dir string) error {
	if s.Index.Len() != len(s.Chunks) {
		return fmt.Errorf("%w: %d vectors but %d chunks", ErrCorruptIndex, s.Index.Len(), len(s.Chunks))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	chunksJSON, err := encodeChunks(s.Chunks)
	if err != nil {
		return err
	}
	blob, err := encodeVectors(s.Index, s.Meta, sha256.Sum256(chunksJSON))
	if err != nil {
		return err
	}

	if err := writeFileAtomic(filepath.Join(dir, VectorsFile), blob); err != nil {
		return fmt.Errorf("failed to write %s: %w", VectorsFile, err)
	}
	if err := writeFileAtomic(filepath.Join(dir, ChunksFile), chunksJSON); err != nil {
		return fmt.Errorf("failed to write %s: %w", ChunksFile, err)
	}
	return nil
}

// SaveStore は store を dir に保存する
func SaveStore(dir string, store *Store) error {
	if store == nil || store.Index == nil {
		return ErrEmptyIndex
	}
	return store.Save(dir)
}

// LoadStore は dir からベクトルファイルとチャンクファイルを読み込む
// 2つのファイルは常にセットで読み、別のビルドの組み合わせや件数の不一致はエラーにする
func LoadStore(dir string) (*Store, error) {
	blob, err := os.ReadFile(filepath.Join(dir, VectorsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", VectorsFile, err)
	}
	idx, meta, chunksSum, err := decodeVectors(blob)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(filepath.Join(dir, ChunksFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ChunksFile, err)
	}
	if sha256.Sum256(raw) != chunksSum {
		return nil, fmt.Errorf("%w: %s does not belong to build %s", ErrCorruptIndex, ChunksFile, meta.BuildID)
	}
	var chunks []document.Chunk
	if err := json.Unmarshal(raw, &chunks); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptIndex, ChunksFile, err)
	}

	if idx.Len() != len(chunks) {
		return nil, fmt.Errorf("%w: %d vectors but %d chunks", ErrCorruptIndex, idx.Len(), len(chunks))
	}

	return &Store{Index: idx, Chunks: chunks, Meta: meta}, nil
}

// ReadMeta はベクトルファイルのヘッダーだけを検証付きで読み込む
func ReadMeta(dir string) (Meta, int, int, error) {
	blob, err := os.ReadFile(filepath.Join(dir, VectorsFile))
	if err != nil {
		return Meta{}, 0, 0, fmt.Errorf("failed to read %s: %w", VectorsFile, err)
	}
	idx, meta, _, err := decodeVectors(blob)
	if err != nil {
		return Meta{}, 0, 0, err
	}
	return meta, idx.Dimension(), idx.Len(), nil
}

// encodeVectors のレイアウト（リトルエンディアン）:
//
//	magic[4] | version u16 | dim u32 | count u64 | buildID[16] | chunksSHA256[32] |
//	modelLen u16 | model | float32 * count*dim | crc32(IEEE) u32
func encodeVectors(idx *FlatIndex, meta Meta, chunksSum [sha256.Size]byte) ([]byte, error) {
	if len(meta.EmbeddingModel) > math.MaxUint16 {
		return nil, fmt.Errorf("embedding model name too long: %d bytes", len(meta.EmbeddingModel))
	}

	buf := make([]byte, 0, 68+len(meta.EmbeddingModel)+4*len(idx.data)+4)
	buf = append(buf, magic[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, formatVersion)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(idx.dim))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(idx.Len()))
	buf = append(buf, meta.BuildID[:]...)
	buf = append(buf, chunksSum[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(meta.EmbeddingModel)))
	buf = append(buf, meta.EmbeddingModel...)
	for _, v := range idx.data {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	buf = binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
	return buf, nil
}

func decodeVectors(blob []byte) (*FlatIndex, Meta, [sha256.Size]byte, error) {
	var noSum [sha256.Size]byte
	if len(blob) < 4 {
		return nil, Meta{}, noSum, fmt.Errorf("%w: %s is truncated", ErrCorruptIndex, VectorsFile)
	}
	body, sum := blob[:len(blob)-4], binary.LittleEndian.Uint32(blob[len(blob)-4:])
	if crc32.ChecksumIEEE(body) != sum {
		return nil, Meta{}, noSum, fmt.Errorf("%w: %s checksum mismatch", ErrCorruptIndex, VectorsFile)
	}

	r := bytes.NewReader(body)
	var header struct {
		Magic     [4]byte
		Version   uint16
		Dim       uint32
		Count     uint64
		BuildID   [16]byte
		ChunksSum [sha256.Size]byte
		NameLen   uint16
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, Meta{}, noSum, fmt.Errorf("%w: failed to read header: %v", ErrCorruptIndex, err)
	}
	if header.Magic != magic {
		return nil, Meta{}, noSum, fmt.Errorf("%w: unexpected magic %q", ErrCorruptIndex, header.Magic[:])
	}
	if header.Version != formatVersion {
		return nil, Meta{}, noSum, fmt.Errorf("%w: unsupported format version %d", ErrCorruptIndex, header.Version)
	}

	name := make([]byte, header.NameLen)
	if _, err := r.Read(name); err != nil && header.NameLen > 0 {
		return nil, Meta{}, noSum, fmt.Errorf("%w: failed to read model name: %v", ErrCorruptIndex, err)
	}

	dim, count := int(header.Dim), header.Count
	if dim == 0 || count == 0 {
		return nil, Meta{}, noSum, fmt.Errorf("%w: %s holds no vectors", ErrEmptyIndex, VectorsFile)
	}
	if uint64(r.Len()) != count*uint64(dim)*4 {
		return nil, Meta{}, noSum, fmt.Errorf("%w: expected %d vectors of dimension %d, got %d bytes", ErrCorruptIndex, count, dim, r.Len())
	}

	data := make([]float32, count*uint64(dim))
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		return nil, Meta{}, noSum, fmt.Errorf("%w: failed to read vectors: %v", ErrCorruptIndex, err)
	}

	meta := Meta{BuildID: uuid.UUID(header.BuildID), EmbeddingModel: string(name)}
	return fromRaw(dim, data), meta, header.ChunksSum, nil
}

func encodeChunks(chunks []document.Chunk) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(chunks); err != nil {
		return nil, fmt.Errorf("failed to encode chunks: %w", err)
	}
	return buf.Bytes(), nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
