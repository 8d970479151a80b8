package sourcelist

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"unicode/utf16"

	"simdasi/internal/config"
	"simdasi/internal/datasource/file"
)

const listCSV = "\ufeffhttps://a/key/1/,bps,penduduk,X\n" +
	"https://b/key/2/, bps , luas , x \n" +
	",bps,orphan,X\n" +
	"https://c/key/3/,sosial,miskin\n" +
	"https://d/key/4/,sosial,kemiskinan,no,extra\n"

var wantSources = []config.Source{
	{URL: "https://a/key/1/", Schema: "bps", Table: "penduduk", Multiply: true},
	{URL: "https://b/key/2/", Schema: "bps", Table: "luas", Multiply: true},
	{URL: "https://c/key/3/", Schema: "sosial", Table: "miskin"},
	{URL: "https://d/key/4/", Schema: "sosial", Table: "kemiskinan"},
}

func TestParse(t *testing.T) {
	t.Parallel()

	got, err := Parse(strings.NewReader(listCSV), false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !reflect.DeepEqual(got, wantSources) {
		t.Fatalf("got %+v\nwant %+v", got, wantSources)
	}
}

func TestParse_Header(t *testing.T) {
	t.Parallel()

	got, err := Parse(strings.NewReader("url,schema,table,flag\nhttps://a/,s,t,X\n"), true)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got) != 1 || got[0].URL != "https://a/" {
		t.Fatalf("got %+v", got)
	}
}

func TestParse_UTF16(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, uint16(0xFEFF))
	for _, u := range utf16.Encode([]rune("https://a/key/1/,bps,penduduk,X\n")) {
		_ = binary.Write(&buf, binary.LittleEndian, u)
	}

	got, err := Parse(&buf, false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !reflect.DeepEqual(got, wantSources[:1]) {
		t.Fatalf("got %+v", got)
	}
}

func TestParse_Empty(t *testing.T) {
	t.Parallel()

	got, err := Parse(strings.NewReader(""), false)
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "list.csv")
	if err := os.WriteFile(path, []byte(listCSV), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := Load(context.Background(), file.NewLocal(path), false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != len(wantSources) {
		t.Fatalf("got %d sources", len(got))
	}

	if _, err := Load(context.Background(), file.NewLocal(path+".missing"), false); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestMerge(t *testing.T) {
	t.Parallel()

	got := Merge(wantSources[:1], wantSources[2:3])
	if len(got) != 2 || got[0].Table != "penduduk" || got[1].Table != "miskin" {
		t.Fatalf("got %+v", got)
	}
}
