package postgres

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/samber/mo"

	"github.com/finsight/docrag/internal/core/vectorstore"
)

// UUIDToPgtype converts uuid.UUID to pgtype.UUID
func UUIDToPgtype(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

// UUIDOptionToPgtype converts mo.Option[uuid.UUID] to pgtype.UUID
func UUIDOptionToPgtype(id mo.Option[uuid.UUID]) pgtype.UUID {
	value, ok := id.Get()
	if !ok {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: value, Valid: true}
}

// PgtypeToUUIDOption converts pgtype.UUID to mo.Option[uuid.UUID]
func PgtypeToUUIDOption(id pgtype.UUID) mo.Option[uuid.UUID] {
	if !id.Valid {
		return mo.None[uuid.UUID]()
	}
	return mo.Some(uuid.UUID(id.Bytes))
}

// CategoryOptionToPgtext converts mo.Option[vectorstore.Category] to pgtype.Text
func CategoryOptionToPgtext(category mo.Option[vectorstore.Category]) pgtype.Text {
	value, ok := category.Get()
	if !ok {
		return pgtype.Text{}
	}
	return pgtype.Text{String: string(value), Valid: true}
}

// PgtextToCategoryOption converts pgtype.Text to mo.Option[vectorstore.Category]
func PgtextToCategoryOption(t pgtype.Text) mo.Option[vectorstore.Category] {
	if !t.Valid || t.String == "" {
		return mo.None[vectorstore.Category]()
	}
	return mo.Some(vectorstore.Category(t.String))
}

// TimeToPgtype converts time.Time to pgtype.Timestamptz
func TimeToPgtype(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}

// UUIDsToStrings converts a uuid slice to its text form for ANY($n::uuid[]) binding
func UUIDsToStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
