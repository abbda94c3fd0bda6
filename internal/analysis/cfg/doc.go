// # Description
//
// Package cfg exposes the control flow graph of one function of a goto
// program and prints it in GraphViz format.
//
// Every instruction is a node. Edges follow ir.Program.Successors, so a
// conditional GOTO has its fall-through edge first and its jump edge second,
// and END_FUNCTION has no successors. Calls are not followed: the graph is
// intra-procedural.
//
// ## Usage
//
//  1. Build a graph with FromFunction.
//  2. Walk it with Succs, Preds or Reachable.
//  3. Dump it with PrintDot, optionally annotating each node (for example
//     with the constants known before the instruction), and render it with
//     RenderToGraphVizFile.
package cfg
