package vectorstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// Category はドキュメントの大分類ラベルを表す
type Category string

const (
	CategoryAccountsPayable    Category = "Accounts Payable"
	CategoryAccountsReceivable Category = "Accounts Receivable"
	CategoryPayroll            Category = "Payroll"
	CategoryFinancialReports   Category = "Financial Reports"
	CategoryContracts          Category = "Contracts"
	CategoryInvoices           Category = "Invoices"
	CategoryGeneral            Category = "General"
	CategoryUnknown            Category = "Unknown"
)

// DefaultCategory は分類が無効だった場合に採用するカテゴリ
const DefaultCategory = CategoryGeneral

// AllCategories は有効なカテゴリの一覧を返す
func AllCategories() []Category {
	return []Category{
		CategoryAccountsPayable,
		CategoryAccountsReceivable,
		CategoryPayroll,
		CategoryFinancialReports,
		CategoryContracts,
		CategoryInvoices,
		CategoryGeneral,
		CategoryUnknown,
	}
}

// ParseCategory は文字列をCategoryとして検証する。
// 未知の値は無効な分類で回答を妨げないよう DefaultCategory に矯正する。
func ParseCategory(s string) Category {
	for _, category := range AllCategories() {
		if string(category) == s {
			return category
		}
	}
	return DefaultCategory
}

// RelevanceType は検索結果がどの検索レッグ由来かを表す
type RelevanceType string

const (
	// RelevanceCategoryMatch はカテゴリ一致レッグの結果
	RelevanceCategoryMatch RelevanceType = "category_match"
	// RelevanceCrossCategory はカテゴリ横断レッグの結果
	RelevanceCrossCategory RelevanceType = "cross_category"
)

// searchPriority はソート用の優先度を返す（小さいほど優先）
func (r RelevanceType) searchPriority() int {
	if r == RelevanceCategoryMatch {
		return 0
	}
	return 1
}

// EmbeddingRecord はベクトルストアが保持するEmbedding行を表す
type EmbeddingRecord struct {
	ID          uuid.UUID
	FileID      mo.Option[uuid.UUID]
	Text        string
	Vector      []float32
	Category    mo.Option[Category]
	SourceFile  string
	ChunkIndex  int
	TotalChunks int
	TokenCount  int
	CreatedAt   time.Time
}

// SearchResult はEmbeddingRecordの検索時ビュー。永続化されない。
type SearchResult struct {
	ID         uuid.UUID
	FileID     mo.Option[uuid.UUID]
	Text       string
	Category   mo.Option[Category]
	SourceFile string
	ChunkIndex int
	Distance   float64
	Similarity float64
	Relevance  RelevanceType
}

// SourceFileInfo はストアに存在するソースファイルの概要を表す
type SourceFileInfo struct {
	FileID     mo.Option[uuid.UUID]
	SourceFile string
	Category   mo.Option[Category]
	ChunkCount int
}
