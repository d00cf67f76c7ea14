package inventory

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
)

type productRecord struct {
	ID           string `json:"id"`
	StoreID      string `json:"store_id"`
	StoreName    string `json:"store_name"`
	Name         string `json:"name"`
	Image        string `json:"image"`
	PriceMinor   int64  `json:"price_minor"`
	AvailableQty int32  `json:"available_qty"`
}

// Load добавляет в каталог товары из JSON-массива. Ошибка в любой карточке
// останавливает загрузку; уже добавленные карточки остаются.
func (c *Catalog) Load(r io.Reader) (int, error) {
	var records []productRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return 0, fmt.Errorf("decode catalog: %w", err)
	}

	for i, rec := range records {
		product := domain.Product{
			ID:           rec.ID,
			StoreID:      rec.StoreID,
			StoreName:    rec.StoreName,
			Name:         rec.Name,
			Image:        rec.Image,
			PriceMinor:   rec.PriceMinor,
			AvailableQty: rec.AvailableQty,
		}
		if err := c.Upsert(product); err != nil {
			return i, fmt.Errorf("product #%d (%q): %w", i, rec.ID, err)
		}
	}
	return len(records), nil
}

// LoadFile читает каталог из файла.
func (c *Catalog) LoadFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return c.Load(f)
}
