package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIconRecordUsesSmallestPreviewAndLargestDownload(t *testing.T) {
	icon := IconfinderIcon{
		IconId: 9,
		Tags:   []string{"a", "b", "c"},
		RasterSizes: []IconfinderRasterSize{
			{Size: 16, SizeWidth: 16, SizeHeight: 16, Formats: []IconfinderFormat{
				{Format: "png", PreviewUrl: "p16.png", DownloadUrl: "d16.png"},
				{Format: "ico", PreviewUrl: "p16.ico", DownloadUrl: "d16.ico"},
			}},
			{Size: 512, SizeWidth: 512, SizeHeight: 256, Formats: []IconfinderFormat{
				{Format: "png", PreviewUrl: "p512.png", DownloadUrl: "d512.png"},
				{Format: "ico", PreviewUrl: "p512.ico", DownloadUrl: "d512.ico"},
			}},
		},
	}
	assert.Equal(t, IconRecord{
		Id:         9,
		PreviewUrl: "p16.png",
		FullUrl:    "d512.ico",
		Size:       "512 x 256",
		Tags:       "a, b, c",
	}, icon.Record())
}

func TestIconRecordWithoutFormats(t *testing.T) {
	icon := IconfinderIcon{
		IconId:      3,
		RasterSizes: []IconfinderRasterSize{{Size: 24, SizeWidth: 24, SizeHeight: 24}},
	}
	assert.Equal(t, IconRecord{Id: 3, Size: "24 x 24"}, icon.Record())
}

func TestIconRecordsKeepOrder(t *testing.T) {
	res := IconfinderSearchResult{Icons: []IconfinderIcon{{IconId: 2}, {IconId: 1}, {IconId: 2}}}
	records := res.Records()
	assert.Equal(t, []int64{2, 1, 2}, []int64{records[0].Id, records[1].Id, records[2].Id})
}
