package catalog

import (
	"github.com/productmatcher/backend/internal/domain"
)

// productDocument is the stored shape of a catalog entry; extra document fields are ignored
type productDocument struct {
	ImageURL string `bson:"image_url"`
	Name     string `bson:"name"`
	Category string `bson:"category"`
}

// toSnapshot converts stored documents to domain records.
// Entries without an image URL can never be matched and are skipped.
func toSnapshot(docs []productDocument) (domain.CatalogSnapshot, int) {
	snapshot := make(domain.CatalogSnapshot, 0, len(docs))
	skipped := 0

	for _, doc := range docs {
		if doc.ImageURL == "" {
			skipped++
			continue
		}
		snapshot = append(snapshot, domain.ProductRecord{
			ImageURL: doc.ImageURL,
			Name:     doc.Name,
			Category: doc.Category,
		})
	}

	return snapshot, skipped
}
