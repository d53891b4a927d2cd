package cleanup

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/disiqueira/gotree/v3"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
)

// Format selects a report renderer.
type Format string

const (
	FormatText Format = "text"
	FormatTree Format = "tree"
	FormatJSON Format = "json"
)

// ParseFormat accepts text, tree and json.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatTree, FormatJSON:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown report format %q (want text, tree or json)", s)
	}
}

// Render writes rep in the given format.
func Render(w io.Writer, rep Report, format Format) error {
	switch format {
	case FormatTree:
		return RenderTree(w, rep)
	case FormatJSON:
		return RenderJSON(w, rep)
	default:
		return RenderText(w, rep)
	}
}

// Size formats a byte count for people.
func Size(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

var tableTitles = []string{"Not in use", "To be deleted", "Size", "Path"}

// RenderText prints the folder table, the candidate list and the totals.
func RenderText(w io.Writer, rep Report) error {
	var b strings.Builder

	sizeWidth := runewidth.StringWidth(tableTitles[2])
	for _, f := range rep.Folders {
		if sw := runewidth.StringWidth(Size(f.Bytes)); sw > sizeWidth {
			sizeWidth = sw
		}
	}
	widths := []int{
		runewidth.StringWidth(tableTitles[0]),
		runewidth.StringWidth(tableTitles[1]),
		sizeWidth,
	}
	writeRow := func(cells ...string) {
		for i, c := range cells[:3] {
			b.WriteString(runewidth.FillLeft(c, widths[i]))
			b.WriteString(" | ")
		}
		b.WriteString(cells[3])
		b.WriteByte('\n')
	}

	b.WriteString("Summary of assets to be deleted\n\n")
	b.WriteString(runewidth.FillRight(tableTitles[0], widths[0]) + " | ")
	b.WriteString(runewidth.FillRight(tableTitles[1], widths[1]) + " | ")
	b.WriteString(runewidth.FillRight(tableTitles[2], widths[2]) + " | ")
	b.WriteString(tableTitles[3] + "\n")
	for _, f := range rep.Folders {
		writeRow(strconv.Itoa(f.NotInUse), strconv.Itoa(f.ToDelete), Size(f.Bytes), f.Path)
	}

	if len(rep.Candidates) > 0 {
		pathWidth := 0
		for _, c := range rep.Candidates {
			if pw := runewidth.StringWidth(c.Path); pw > pathWidth {
				pathWidth = pw
			}
		}
		b.WriteString("\nCandidates\n")
		for _, c := range rep.Candidates {
			fmt.Fprintf(&b, "  %s  %s  (id %d)\n", runewidth.FillRight(c.Path, pathWidth), runewidth.FillLeft(Size(c.Bytes), sizeWidth), c.ID)
		}
	}

	fmt.Fprintf(&b, "\n%d assets, %d referenced, %d not in use, %d ignored, %d to be deleted (%s)\n",
		rep.TotalAssets, rep.Referenced, rep.NotInUse, rep.Ignored, rep.ToDelete, Size(rep.TotalBytes))

	_, err := io.WriteString(w, b.String())
	return err
}

// RenderTree prints the candidates as a folder tree.
func RenderTree(w io.Writer, rep Report) error {
	root := gotree.New(fmt.Sprintf("/ (%d to be deleted, %s)", rep.ToDelete, Size(rep.TotalBytes)))
	dirs := map[string]gotree.Tree{"/": root}

	var dir func(p string) gotree.Tree
	dir = func(p string) gotree.Tree {
		if t, ok := dirs[p]; ok {
			return t
		}
		i := strings.LastIndexByte(p, '/')
		parent := p[:i]
		if parent == "" {
			parent = "/"
		}
		t := dir(parent).Add(p[i+1:])
		dirs[p] = t
		return t
	}

	for _, c := range rep.Candidates {
		i := strings.LastIndexByte(c.Path, '/')
		folder := c.Path[:i]
		if folder == "" {
			folder = "/"
		}
		dir(folder).Add(fmt.Sprintf("%s (%s)", c.Path[i+1:], Size(c.Bytes)))
	}

	_, err := io.WriteString(w, root.Print())
	return err
}

// RenderJSON writes rep as indented JSON.
func RenderJSON(w io.Writer, rep Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
