package repository

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/noah-isme/classroom-api/internal/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}

// variantsOf flattens every stored encoding of the given ids for $in filters.
func variantsOf(ids []models.ID) []interface{} {
	out := make([]interface{}, 0, len(ids)*2)
	for _, id := range ids {
		if id.IsZero() {
			continue
		}
		out = append(out, id.Variants()...)
	}
	return out
}

// idClause matches a document id stored either as an ObjectID or as its hex string.
func idClause(id models.ID) bson.M {
	return bson.M{"$in": id.Variants()}
}

func byID(id models.ID) bson.M {
	return bson.M{"_id": idClause(id)}
}
