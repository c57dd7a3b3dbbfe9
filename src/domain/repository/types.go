package repository

import "encoding/json"

const DefaultPageLimit = 10

type Page struct {
	Limit  int
	Offset int
	Total  int
}

func (self Page) Pages() int {
	if self.Limit <= 0 {
		return 1
	}
	pages := self.Total / self.Limit
	if self.Total%self.Limit != 0 {
		pages += 1
	}
	return pages
}

func (self Page) NextOffset() *int {
	offset := self.Offset + self.Limit
	if offset >= self.Total {
		return nil
	}
	return &offset
}

func (self *Page) MarshalJSON() ([]byte, error) {
	if self == nil {
		return []byte("null"), nil
	}
	return json.Marshal(map[string]any{
		"offset":      self.Offset,
		"limit":       self.Limit,
		"total":       self.Total,
		"pages":       self.Pages(),
		"next_offset": self.NextOffset(),
	})
}
