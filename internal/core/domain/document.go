package domain

import "strconv"

// Metadata keys attached to retrieved and indexed documents.
const (
	MetaPartition = "partition"
	MetaSource    = "source"
	MetaPage      = "page"
	MetaTitle     = "title"
	MetaURL       = "url"
)

// Origin tells where a retrieved document came from.
type Origin string

const (
	OriginCorpus Origin = "corpus"
	OriginWeb    Origin = "web"
)

// RetrievedDocument is a ranked piece of text produced by one of the retrieval
// capabilities. It lives only as long as the request that produced it.
type RetrievedDocument struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Score    float64           `json:"score"`
	Origin   Origin            `json:"origin"`
}

func (d RetrievedDocument) Partition() Partition {
	return Partition(d.Metadata[MetaPartition])
}

func (d RetrievedDocument) Source() string {
	if src := d.Metadata[MetaSource]; src != "" {
		return src
	}
	return d.Metadata[MetaURL]
}

// SourceDocument is one extracted page of a statute file fed to the offline indexer.
type SourceDocument struct {
	Partition Partition
	Path      string
	Page      int
	Text      string
}

// IndexedChunk is the unit written to both the dense and the lexical index.
type IndexedChunk struct {
	ID        string
	Partition Partition
	Source    string
	Page      int
	Text      string
}

func (c IndexedChunk) Metadata() map[string]string {
	meta := map[string]string{
		MetaPartition: string(c.Partition),
		MetaSource:    c.Source,
	}
	if c.Page > 0 {
		meta[MetaPage] = strconv.Itoa(c.Page)
	}
	return meta
}

// IndexReport summarizes one offline partition build.
type IndexReport struct {
	Partition Partition `json:"partition"`
	Files     int       `json:"files"`
	Pages     int       `json:"pages"`
	Chunks    int       `json:"chunks"`
	Failed    []string  `json:"failed,omitempty"`
}
