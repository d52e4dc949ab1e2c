// Package pipeline runs declarative conversion pipelines.
//
// A pipeline is a YAML document listing conversion steps. Each step names a
// destination trace and the traces it reads; later steps may read what
// earlier steps wrote. Documents are checked against an embedded CUE schema
// before they are decoded, so typos and missing fields fail early with the
// offending path.
//
//	name: campus
//	overwrite: true
//	steps:
//	  - op: merge
//	    dest: all
//	    sources: [building-a, building-b]
//	  - op: window
//	    dest: morning
//	    source: all
//	    begin: 28800
//	    end: 43200
//	  - op: ccs
//	    dest: clusters
//	    source: morning
//	  - op: windowed
//	    dest: contacts
//	    source: morning
//	    span: 600
package pipeline
