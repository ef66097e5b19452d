// Package dsl implements the gateway's S-expression constraint language:
// a lexer and total parser, a whitelist compiler that rejects any operator
// outside the approved set, and a pluggable solver binding that decides
// satisfiability of compiled programs.
//
// Provider output is never executed. It is parsed into an AST, every
// operator is checked against the whitelist, types are inferred, and only
// the resulting opaque Program reaches a solver.
package dsl
