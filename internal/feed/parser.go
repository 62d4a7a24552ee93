package feed

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pders01/neows/internal/storage"
)

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// ParseFeed decodes a feed payload. A missing near_earth_objects map is
// returned as an empty map.
func (p *Parser) ParseFeed(reader io.Reader) (*storage.FeedResponse, error) {
	var resp storage.FeedResponse
	if err := json.NewDecoder(reader).Decode(&resp); err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}
	if resp.NearEarthObjects == nil {
		resp.NearEarthObjects = make(map[string][]storage.NearEarthObject)
	}
	return &resp, nil
}

func (p *Parser) ParseDetail(reader io.Reader) (*storage.NEODetail, error) {
	var detail storage.NEODetail
	if err := json.NewDecoder(reader).Decode(&detail); err != nil {
		return nil, fmt.Errorf("parsing object detail: %w", err)
	}
	return &detail, nil
}
