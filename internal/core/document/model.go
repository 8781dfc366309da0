package document

// Document はソースファイル1件（JSONLの場合は1行）から得られた正規化済みドキュメント
type Document struct {
	Title   string   // タイトル（既定はファイルのベース名）
	Content string   // 本文
	Source  string   // 読み込み元のパス
	Tags    []string // タグ（PDFの場合は "pdf"）
}

// Chunk はドキュメント本文を固定長ウィンドウで分割した断片
// chunks.json にはこの構造体がそのまま挿入順に書き出される
type Chunk struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Source  string   `json:"source"`
	ChunkID int      `json:"chunk_id"`
	Tags    []string `json:"tags"`
}

// Role は Embedding の用途（インデックス用 / クエリ用）を表す
type Role string

const (
	// RoleDocument はインデックス構築時のドキュメント Embedding
	RoleDocument Role = "document"
	// RoleQuery は検索時のクエリ Embedding
	RoleQuery Role = "query"
)

// Valid は既知のロールかどうかを返す
func (r Role) Valid() bool {
	return r == RoleDocument || r == RoleQuery
}

// NewChunk はドキュメントのメタデータを引き継いだチャンクを作成する
func NewChunk(doc *Document, chunkID int, content string) Chunk {
	tags := make([]string, len(doc.Tags))
	copy(tags, doc.Tags)
	return Chunk{
		Title:   doc.Title,
		Content: content,
		Source:  doc.Source,
		ChunkID: chunkID,
		Tags:    tags,
	}
}
