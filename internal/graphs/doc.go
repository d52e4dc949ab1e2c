// Package graphs holds the payloads of graph traces: links between nodes
// (edges), sets of nodes (groups) and edges with their recent and upcoming
// transitions (windowed edges), with their binary codecs and the
// updaters that fold delta events into state.
//
// Node ids are the internal ids of the trace's id map.
package graphs
