// Package compiler turns tiered memory into the prompt pair sent to a text-generation backend.
//
// Each agent name maps to a Template row. The system segment depends only on the agent
// name so backends can cache it; the user segment carries the session summary, a
// flattened dump of the working context and the artifact reference tokens.
package compiler
