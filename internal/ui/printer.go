package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Printer centralizes output formatting for commands.
// - Respects --output (text|json|yaml)
// - Uses ColorConfig for styling when printing text
// - Provides helpers for common message types
type Printer struct {
	format string
	out    io.Writer
	Colors *ColorConfig
}

func NewPrinter(format string) Printer {
	return Printer{format: format, out: os.Stdout, Colors: NewColorConfig()}
}

// WithWriter returns a copy of p writing to w.
func (p Printer) WithWriter(w io.Writer) Printer {
	p.out = w
	return p
}

func (p Printer) Format() string { return p.format }

// Structured reports whether the output format is json or yaml.
func (p Printer) Structured() bool { return p.format == "json" || p.format == "yaml" }

// Textf prints formatted text (always text path).
func (p Printer) Textf(format string, a ...any) { fmt.Fprintf(p.out, format, a...) }

// JSON pretty-prints a JSON value.
func (p Printer) JSON(v any) {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// YAML prints v as a YAML document.
func (p Printer) YAML(v any) error {
	b, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = p.out.Write(b)
	return err
}

// Emit prints v in the structured format, or calls text for text output.
func (p Printer) Emit(v any, text func()) error {
	switch p.format {
	case "json":
		p.JSON(v)
		return nil
	case "yaml":
		return p.YAML(v)
	default:
		text()
		return nil
	}
}

// Success prints a success line with themed prefix.
func (p Printer) Success(msg string) {
	c := p.Colors
	if c.EmojiEnabled {
		fmt.Fprintln(p.out, c.Success("✓"), msg)
	} else {
		fmt.Fprintln(p.out, c.Success("[OK]"), msg)
	}
}

// Info prints an informational line.
func (p Printer) Info(msg string) {
	c := p.Colors
	if c.EmojiEnabled {
		fmt.Fprintln(p.out, c.Info("ℹ"), msg)
	} else {
		fmt.Fprintln(p.out, c.Info("[INFO]"), msg)
	}
}

// Warn prints a warning line.
func (p Printer) Warn(msg string) {
	c := p.Colors
	if c.EmojiEnabled {
		fmt.Fprintln(p.out, c.Warning("!"), msg)
	} else {
		fmt.Fprintln(p.out, c.Warning("[WARN]"), msg)
	}
}

// Error prints an error line.
func (p Printer) Error(msg string) {
	c := p.Colors
	if c.EmojiEnabled {
		fmt.Fprintln(p.out, c.Error("✗"), msg)
	} else {
		fmt.Fprintln(p.out, c.Error("[ERR]"), msg)
	}
}

// Section prints a section header with separator
func (p Printer) Section(title string) {
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, p.Colors.SubHeader(title))
	fmt.Fprintln(p.out, p.Colors.Separator(40))
}

// KeyValueLine prints a key-value pair with proper formatting
func (p Printer) KeyValueLine(key, value, colorType string) {
	var coloredValue string
	switch colorType {
	case "blue":
		coloredValue = p.Colors.Apply(p.Colors.Theme.Info, value)
	case "yellow":
		coloredValue = p.Colors.Apply(p.Colors.Theme.Warning, value)
	case "green":
		coloredValue = p.Colors.Apply(p.Colors.Theme.Success, value)
	case "dim":
		coloredValue = p.Colors.Apply(p.Colors.Theme.Description, value)
	default:
		coloredValue = p.Colors.Value(value)
	}
	fmt.Fprintf(p.out, "%s %s\n", p.Colors.Label(key+":"), coloredValue)
}
