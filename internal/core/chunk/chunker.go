package chunk

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// DefaultChunkSize はチャンクの最大文字数
	DefaultChunkSize = 1000
	// DefaultOverlapFraction は隣接チャンク間の重複率
	DefaultOverlapFraction = 0.10
)

// sentenceEnders は文末と見なす文字の集合
var sentenceEnders = map[rune]bool{
	'.':  true,
	'!':  true,
	'?':  true,
	'\n': true,
}

// Chunk は抽出済みドキュメントの部分文字列を表す
type Chunk struct {
	Content     string
	SourceRef   string
	ChunkIndex  int
	TotalChunks int
	Tokens      int
}

// Chunker はテキストを文境界を考慮した重複付きチャンクに分割する
type Chunker struct {
	encoder         *tiktoken.Tiktoken
	chunkSize       int
	overlapFraction float64
}

// ChunkerOption は Chunker のオプション設定
type ChunkerOption func(*Chunker)

// WithChunkSize はチャンクサイズを上書きする
func WithChunkSize(size int) ChunkerOption {
	return func(c *Chunker) {
		c.chunkSize = size
	}
}

// WithOverlapFraction は重複率を上書きする
func WithOverlapFraction(fraction float64) ChunkerOption {
	return func(c *Chunker) {
		c.overlapFraction = fraction
	}
}

// NewChunker は新しいChunkerを作成する
func NewChunker(opts ...ChunkerOption) (*Chunker, error) {
	// cl100k_baseエンコーダを使用（text-embedding-3-smallと互換）
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoder: %w", err)
	}

	c := &Chunker{
		encoder:         encoder,
		chunkSize:       DefaultChunkSize,
		overlapFraction: DefaultOverlapFraction,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.chunkSize <= 0 {
		c.chunkSize = DefaultChunkSize
	}
	if c.overlapFraction < 0 || c.overlapFraction >= 1 {
		c.overlapFraction = DefaultOverlapFraction
	}

	return c, nil
}

// Split はテキストを順序付きチャンク文字列に分割する。
// 同じ入力は常に同じ分割結果となる（再インジェストの冪等性に必要）。
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= c.chunkSize {
		return []string{strings.TrimSpace(text)}
	}

	overlapSize := int(float64(c.chunkSize) * c.overlapFraction)

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + c.chunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			// 窓の末尾から中間点まで遡って直近の文末を探し、文の途中で切らない
			end = c.cutAtSentenceBoundary(runes, start, end)
		}

		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			chunks = append(chunks, piece)
		}

		if end >= len(runes) {
			break
		}

		// 次の窓は overlapSize 分だけ重ねて開始する
		next := end - overlapSize
		if next <= start {
			// 末尾近くの小さな残りでは開始位置が進まないことがあるため前進を強制する
			next = start + (c.chunkSize - overlapSize)
		}
		start = next
	}

	return chunks
}

// cutAtSentenceBoundary は [start, end) の窓に対して文末位置を返す。
// 見つからない場合は end をそのまま返す。
func (c *Chunker) cutAtSentenceBoundary(runes []rune, start, end int) int {
	limit := start + (end-start)/2
	for i := end - 1; i > limit; i-- {
		if sentenceEnders[runes[i]] {
			return i + 1
		}
	}
	return end
}

// BuildChunks はテキストを分割し、ソース参照と位置情報を付与したChunkを返す
func (c *Chunker) BuildChunks(sourceRef, text string) []*Chunk {
	pieces := c.Split(text)
	chunks := make([]*Chunk, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, &Chunk{
			Content:     piece,
			SourceRef:   sourceRef,
			ChunkIndex:  i,
			TotalChunks: len(pieces),
			Tokens:      c.CountTokens(piece),
		})
	}
	return chunks
}

// BuildChunksFromSegments は抽出済みテキストセグメント群を分割し、
// ドキュメント全体で連番となるChunk列を返す
func (c *Chunker) BuildChunksFromSegments(sourceRef string, segments []string) []*Chunk {
	var pieces []string
	for _, segment := range segments {
		pieces = append(pieces, c.Split(segment)...)
	}

	chunks := make([]*Chunk, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, &Chunk{
			Content:     piece,
			SourceRef:   sourceRef,
			ChunkIndex:  i,
			TotalChunks: len(pieces),
			Tokens:      c.CountTokens(piece),
		})
	}
	return chunks
}

// CountTokens はテキストのトークン数をカウントする
func (c *Chunker) CountTokens(text string) int {
	return len(c.encoder.Encode(text, nil, nil))
}

// ChunkSize は設定されたチャンクサイズを返す
func (c *Chunker) ChunkSize() int {
	return c.chunkSize
}

// OverlapSize は設定から導出される重複文字数を返す
func (c *Chunker) OverlapSize() int {
	return int(float64(c.chunkSize) * c.overlapFraction)
}
