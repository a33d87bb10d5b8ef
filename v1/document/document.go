// Package document holds the text recognized from one upload batch.
package document

// Title heads every generated document.
const Title = "Extracted Text from Images"

// Page is the text recognized in one image.
type Page struct {
	Name  string
	Lines []string
}

// Document maps image names to recognized lines, in recognition order.
type Document struct {
	pages []Page
	index map[string]int
}

// New returns an empty document.
func New() *Document {
	return &Document{index: make(map[string]int)}
}

// Add records lines for name. A repeated name replaces the earlier lines but
// keeps its original position.
func (d *Document) Add(name string, lines []string) {
	if d.index == nil {
		d.index = make(map[string]int)
	}
	cp := append([]string(nil), lines...)
	if i, ok := d.index[name]; ok {
		d.pages[i].Lines = cp
		return
	}
	d.index[name] = len(d.pages)
	d.pages = append(d.pages, Page{Name: name, Lines: cp})
}

// Lines returns the lines recognized for name.
func (d *Document) Lines(name string) ([]string, bool) {
	if d == nil {
		return nil, false
	}
	i, ok := d.index[name]
	if !ok {
		return nil, false
	}
	return append([]string(nil), d.pages[i].Lines...), true
}

// Pages returns a copy of every page in recognition order.
func (d *Document) Pages() []Page {
	if d == nil {
		return nil
	}
	out := make([]Page, len(d.pages))
	for i, p := range d.pages {
		out[i] = Page{Name: p.Name, Lines: append([]string(nil), p.Lines...)}
	}
	return out
}

// Len returns the number of pages.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.pages)
}
