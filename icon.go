package main

import (
	"context"
	"fmt"
	"strings"
)

// IconRecord is one normalized catalog result. Favorite state is not part of
// the record; it is resolved against the favorites store by Id.
type IconRecord struct {
	Id         int64  `json:"id"`
	PreviewUrl string `json:"previewUrl,omitempty"`
	FullUrl    string `json:"fullUrl,omitempty"`
	Size       string `json:"size,omitempty"`
	Tags       string `json:"tags"`
}

// IconView is an IconRecord annotated with its favorite flag.
type IconView struct {
	IconRecord
	Favorite bool `json:"favorite"`
}

type IconSearcher interface {
	Fetch(ctx context.Context, query string, page int) ([]IconRecord, error)
	Type() string
	PageSize() int
}

type IconfinderFormat struct {
	Format      string `json:"format"`
	PreviewUrl  string `json:"preview_url"`
	DownloadUrl string `json:"download_url"`
}

type IconfinderRasterSize struct {
	Size       int                `json:"size"`
	SizeWidth  int                `json:"size_width"`
	SizeHeight int                `json:"size_height"`
	Formats    []IconfinderFormat `json:"formats"`
}

type IconfinderIcon struct {
	IconId      int64                  `json:"icon_id"`
	Tags        []string               `json:"tags"`
	RasterSizes []IconfinderRasterSize `json:"raster_sizes"`
}

type IconfinderSearchResult struct {
	TotalCount int              `json:"total_count"`
	Icons      []IconfinderIcon `json:"icons"`
}

// Record maps a catalog icon onto an IconRecord: the preview comes from the
// smallest raster size, the download and size label from the largest.
func (icon *IconfinderIcon) Record() IconRecord {
	rec := IconRecord{
		Id:   icon.IconId,
		Tags: strings.Join(icon.Tags, ", "),
	}
	if len(icon.RasterSizes) == 0 {
		return rec
	}
	first := icon.RasterSizes[0]
	if len(first.Formats) > 0 {
		rec.PreviewUrl = first.Formats[0].PreviewUrl
	}
	last := icon.RasterSizes[len(icon.RasterSizes)-1]
	if len(last.Formats) > 0 {
		rec.FullUrl = last.Formats[len(last.Formats)-1].DownloadUrl
	}
	rec.Size = fmt.Sprintf("%d x %d", last.SizeWidth, last.SizeHeight)
	return rec
}

func (res *IconfinderSearchResult) Records() []IconRecord {
	output := make([]IconRecord, len(res.Icons))
	for i := range res.Icons {
		output[i] = res.Icons[i].Record()
	}
	return output
}
