package domain

import "strconv"

// UnknownOwnerName attributes copies whose owner record has not been seen.
const UnknownOwnerName = "Unknown"

// UnifiedWork is a display grouping of every copy of one work in a shared
// group. Grouping is a view only; the copies stay separate records.
type UnifiedWork struct {
	WorkID        string     `json:"workId"`
	SharedGroupID string     `json:"sharedGroupId"`
	CatalogID     *int       `json:"catalogId,omitempty"`
	Title         string     `json:"title"`
	Year          *int       `json:"year,omitempty"`
	Season        *int       `json:"season,omitempty"`
	WorkType      WorkType   `json:"workType"`
	Copies        []WorkCopy `json:"copies"`
}

// WorkCopy attributes one copy of a work to its owner.
type WorkCopy struct {
	ItemID    string `json:"itemId"`
	OwnerID   string `json:"ownerId"`
	OwnerName string `json:"ownerName"`
	Format    Format `json:"format"`
	Notes     string `json:"notes,omitempty"`
}

// GroupWorks groups items by catalogue id when present and by work key
// otherwise. Works keep the order in which their first copy appears.
func GroupWorks(groupID string, items []CollectionItem, owners []Owner) []UnifiedWork {
	names := make(map[string]string, len(owners))
	for _, o := range owners {
		names[o.OwnerID] = o.DisplayName
	}

	index := make(map[string]int)
	var works []UnifiedWork

	for i := range items {
		item := &items[i]
		key := WorkKey(item)
		if item.CatalogID != nil {
			key = strconv.Itoa(*item.CatalogID)
		}

		pos, ok := index[key]
		if !ok {
			pos = len(works)
			index[key] = pos
			works = append(works, UnifiedWork{
				WorkID:        key,
				SharedGroupID: groupID,
				CatalogID:     item.CatalogID,
				Title:         item.Title,
				Year:          item.Year,
				Season:        item.Season,
				WorkType:      item.WorkType,
			})
		}

		name, ok := names[item.OwnerID]
		if !ok || name == "" {
			name = UnknownOwnerName
		}
		works[pos].Copies = append(works[pos].Copies, WorkCopy{
			ItemID:    item.ItemID,
			OwnerID:   item.OwnerID,
			OwnerName: name,
			Format:    item.Format,
			Notes:     item.Notes,
		})
	}

	return works
}
