package model

// OpenGraph holds the four Open Graph values substituted into origin HTML.
type OpenGraph struct {
	URL         string
	Title       string
	Description string
	Image       string
}

// MetadataResult is the outcome of a metadata lookup. The zero value is Unavailable.
type MetadataResult struct {
	Data      OpenGraph
	Available bool
}

// Unavailable is returned whenever metadata could not be obtained.
var Unavailable = MetadataResult{}

// Found wraps og as an available result.
func Found(og OpenGraph) MetadataResult {
	return MetadataResult{Data: og, Available: true}
}
