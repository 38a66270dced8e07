package annotation

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrInvalidGroup is returned for annotation groups outside the known
	// positive and negative names, or nested in another group.
	ErrInvalidGroup = errors.New("invalid annotation group")
	// ErrInvalidType is returned for annotation types other than Rectangle,
	// Spline and Polygon.
	ErrInvalidType = errors.New("invalid annotation type")
	// ErrInvalidLabel is returned when an annotation's group maps to no label.
	ErrInvalidLabel = errors.New("invalid annotation label")
	// ErrNoCoordinates is returned for annotations without vertices.
	ErrNoCoordinates = errors.New("annotation has no coordinates")
)

// Type is the shape of an annotation.
type Type string

const (
	Rectangle Type = "Rectangle"
	Spline    Type = "Spline"
	Polygon   Type = "Polygon"
)

// Labels.
const (
	Negative = 0
	Positive = 1
)

var groupNames = map[string]bool{
	"positive": true, "Positive": true, "1": true, "pos": true,
	"negative": true, "Negative": true, "0": true, "neg": true,
}

var labels = map[string]int{
	"Positive": Positive, "positive": Positive, "1": Positive, "pos": Positive,
	"Negative": Negative, "negative": Negative, "0": Negative, "neg": Negative, "None": Negative,
}

// Point is a level-0 coordinate.
type Point struct {
	X, Y float64
}

// BBox is the axis-aligned extent of an annotation.
type BBox struct {
	Min, Max Point
}

// Annotation is one outlined region.
type Annotation struct {
	Name        string
	Type        Type
	Group       string
	Label       int
	Color       string
	Coordinates []Point
	BBox        BBox
}

type xmlDocument struct {
	XMLName     xml.Name        `xml:"ASAP_Annotations"`
	Annotations []xmlAnnotation `xml:"Annotations>Annotation"`
	Groups      []xmlGroup      `xml:"AnnotationGroups>Group"`
}

type xmlAnnotation struct {
	Name        string          `xml:"Name,attr"`
	Type        string          `xml:"Type,attr"`
	PartOfGroup string          `xml:"PartOfGroup,attr"`
	Color       string          `xml:"Color,attr"`
	Coordinates []xmlCoordinate `xml:"Coordinates>Coordinate"`
}

type xmlCoordinate struct {
	Order string `xml:"Order,attr"`
	X     string `xml:"X,attr"`
	Y     string `xml:"Y,attr"`
}

type xmlGroup struct {
	Name        string `xml:"Name,attr"`
	PartOfGroup string `xml:"PartOfGroup,attr"`
}

// parseNumber accepts both decimal points and decimal commas.
func parseNumber(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
}

// Parse reads an ASAP annotation document and returns its group names and
// annotations in document order.
func Parse(r io.Reader) ([]string, []Annotation, error) {
	var doc xmlDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("decode annotations: %w", err)
	}

	groups := make([]string, 0, len(doc.Groups))
	for _, g := range doc.Groups {
		if !groupNames[g.Name] {
			return nil, nil, fmt.Errorf("%w: name %q", ErrInvalidGroup, g.Name)
		}
		if g.PartOfGroup != "None" {
			return nil, nil, fmt.Errorf("%w: %q is part of %q", ErrInvalidGroup, g.Name, g.PartOfGroup)
		}
		groups = append(groups, g.Name)
	}

	items := make([]Annotation, 0, len(doc.Annotations))
	for _, x := range doc.Annotations {
		a, err := convertAnnotation(x)
		if err != nil {
			return nil, nil, err
		}
		items = append(items, a)
	}
	return groups, items, nil
}

func convertAnnotation(x xmlAnnotation) (Annotation, error) {
	a := Annotation{Name: x.Name, Type: Type(x.Type), Group: x.PartOfGroup, Color: x.Color}
	switch a.Type {
	case Rectangle, Spline, Polygon:
	default:
		return a, fmt.Errorf("annotation %s: %w: %q", a.Name, ErrInvalidType, x.Type)
	}
	label, ok := labels[x.PartOfGroup]
	if !ok {
		return a, fmt.Errorf("annotation %s: %w: wrong PartOfGroup %q", a.Name, ErrInvalidLabel, x.PartOfGroup)
	}
	a.Label = label

	if len(x.Coordinates) == 0 {
		return a, fmt.Errorf("annotation %s: %w", a.Name, ErrNoCoordinates)
	}
	coords := x.Coordinates
	if ordered(coords) {
		coords = append([]xmlCoordinate(nil), coords...)
		sort.SliceStable(coords, func(i, j int) bool {
			oi, _ := strconv.Atoi(coords[i].Order)
			oj, _ := strconv.Atoi(coords[j].Order)
			return oi < oj
		})
	}
	a.Coordinates = make([]Point, len(coords))
	for i, c := range coords {
		px, err := parseNumber(c.X)
		if err != nil {
			return a, fmt.Errorf("annotation %s: coordinate %d: X: %w", a.Name, i, err)
		}
		py, err := parseNumber(c.Y)
		if err != nil {
			return a, fmt.Errorf("annotation %s: coordinate %d: Y: %w", a.Name, i, err)
		}
		a.Coordinates[i] = Point{X: math.Max(px, 0), Y: math.Max(py, 0)}
	}
	a.BBox = bounds(a.Coordinates)
	return a, nil
}

// ordered reports whether every coordinate carries an integer Order.
func ordered(coords []xmlCoordinate) bool {
	for _, c := range coords {
		if _, err := strconv.Atoi(c.Order); err != nil {
			return false
		}
	}
	return true
}

func bounds(pts []Point) BBox {
	b := BBox{Min: pts[0], Max: pts[0]}
	for _, p := range pts[1:] {
		b.Min.X, b.Min.Y = math.Min(b.Min.X, p.X), math.Min(b.Min.Y, p.Y)
		b.Max.X, b.Max.Y = math.Max(b.Max.X, p.X), math.Max(b.Max.Y, p.Y)
	}
	return b
}

// ParseFile parses the annotation document at path.
func ParseFile(path string) ([]string, []Annotation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	groups, items, err := Parse(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return groups, items, nil
}
