package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/yamnet/internal/query"
)

// Collection identifies one of the store's two record collections.
type Collection int

const (
	// Analysis holds classification results. Sync-eligible.
	Analysis Collection = iota + 1
	// Audio holds raw PCM blobs. Local only.
	Audio
)

// Column names shared by both collections.
const (
	ColID        = "_id"
	ColTimestamp = "timestamp"
	ColDeviceID  = "device_id"
	ColDuration  = "duration"

	// ColAnalysisResults exists only in the Analysis collection.
	ColAnalysisResults = "analysis_results"
	// ColRawAudio exists only in the Audio collection.
	ColRawAudio = "raw_audio"
)

const contentScheme = "content://"

type collectionInfo struct {
	table        string
	payload      string // collection-specific column
	dirType      string
	itemType     string
	compiler     *query.Compiler
	syncEligible bool
}

var collections = map[Collection]collectionInfo{
	Analysis: {
		table:        "plugin_yamnet",
		payload:      ColAnalysisResults,
		dirType:      "vnd.android.cursor.dir/vnd.aware.plugin.yamnet",
		itemType:     "vnd.android.cursor.item/vnd.aware.plugin.yamnet",
		compiler:     query.NewCompiler(ColID, ColTimestamp, ColDeviceID, ColDuration),
		syncEligible: true,
	},
	Audio: {
		table:    "plugin_yamnet_audio",
		payload:  ColRawAudio,
		dirType:  "vnd.android.cursor.dir/vnd.aware.plugin.yamnet.audio",
		itemType: "vnd.android.cursor.item/vnd.aware.plugin.yamnet.audio",
		compiler: query.NewCompiler(ColID, ColTimestamp, ColDeviceID, ColDuration),
	},
}

// Table returns the SQL table name backing c.
func (c Collection) Table() string {
	if info, ok := collections[c]; ok {
		return info.table
	}
	return ""
}

func (c Collection) String() string {
	if t := c.Table(); t != "" {
		return t
	}
	return fmt.Sprintf("collection(%d)", int(c))
}

// columns returns the writable columns of c (everything but _id).
func (c Collection) columns() []string {
	return []string{ColTimestamp, ColDeviceID, ColDuration, collections[c].payload}
}

// Address is a content URI naming a collection, or a single row within one.
type Address string

// Address returns the collection address of c.
func (s *Store) Address(c Collection) Address {
	return Address(contentScheme + s.authority + "/" + c.Table())
}

// ItemAddress returns the address of a single row in c.
func (s *Store) ItemAddress(c Collection, id int64) Address {
	return Address(fmt.Sprintf("%s/%d", s.Address(c), id))
}

// Resolve maps an address to its collection. For item addresses it also
// returns the row key; for collection addresses id is 0.
func (s *Store) Resolve(addr Address) (c Collection, id int64, err error) {
	prefix := contentScheme + s.authority + "/"
	rest, ok := strings.CutPrefix(string(addr), prefix)
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", ErrUnknownCollection, addr)
	}

	table, idPart, hasID := strings.Cut(rest, "/")
	for coll, info := range collections {
		if info.table != table {
			continue
		}
		if !hasID {
			return coll, 0, nil
		}
		id, err := strconv.ParseInt(idPart, 10, 64)
		if err != nil || id <= 0 {
			return 0, 0, fmt.Errorf("%w: %s", ErrUnknownCollection, addr)
		}
		return coll, id, nil
	}
	return 0, 0, fmt.Errorf("%w: %s", ErrUnknownCollection, addr)
}

// ContentType returns the MIME-style type of the rows an address names.
func (s *Store) ContentType(addr Address) (string, error) {
	c, id, err := s.Resolve(addr)
	if err != nil {
		return "", err
	}
	if id != 0 {
		return collections[c].itemType, nil
	}
	return collections[c].dirType, nil
}

// SyncTables lists the tables the sync collaborator may replicate.
// The audio collection is never included.
func SyncTables() []string {
	var tables []string
	for _, c := range []Collection{Analysis, Audio} {
		if collections[c].syncEligible {
			tables = append(tables, collections[c].table)
		}
	}
	return tables
}
