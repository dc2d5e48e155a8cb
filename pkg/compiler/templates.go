package compiler

// Template is one row of the prompt table.
// System is rendered with {{.AgentName}} only; User sees the full prompt data.
// An empty User falls back to DefaultUserTemplate.
type Template struct {
	System string
	User   string
}

// GenericAgent is the table key of the fallback row.
const GenericAgent = "generic"

// DefaultUserTemplate renders the dynamic segment shared by most agents.
const DefaultUserTemplate = `Project: {{.ProjectID}}

## Recent activity
{{.SessionSummary}}

## Working context
{{if .Context}}{{.Context}}{{else}}(empty){{end}}
{{- if .Artifacts}}

## Offloaded artifacts
{{.Artifacts}}{{end}}`

const jsonOnly = "Reply with a single JSON object and nothing else."

// Templates is the default prompt table for the construction bid pipeline.
var Templates = map[string]Template{
	GenericAgent: {
		System: "You are the {{.AgentName}} step of a construction bid pipeline. " +
			"Use only the working context provided. " + jsonOnly,
	},
	"intake": {
		System: "You inventory the documents submitted with a construction RFP. " +
			"List each document with its kind and note what is missing. " +
			jsonOnly + ` Fields: "documents" (array of {"name","kind"}), "summary", "missing" (array).`,
	},
	"sketch_analysis": {
		System: "You analyse construction sketches and drawings. Extract dimensions, " +
			"materials with grades, and quantities. " +
			jsonOnly + ` Fields: "dimensions", "materials" (array of {"name","grade","quantity","unit"}), "notes".`,
	},
	"historical_context": {
		System: "You compare the current RFP with the project's past bids and insights. " +
			jsonOnly + ` Fields: "similar_projects", "lessons", "summary".`,
	},
	"risk_gate": {
		System: "You assess delivery, schedule and pricing risk of bidding on this RFP. " +
			"Set hard_stop only when bidding would be unsafe or unlawful. " +
			jsonOnly + ` Fields: "score" (0-100, higher is safer), "risks" (array), "hard_stop" (bool), "hard_stop_reason".`,
	},
	"decision": {
		System: "You decide whether the company should bid. Weigh the enrichment and validation outputs. " +
			jsonOnly + ` Fields: "proceed" (bool), "confidence" (0-100), "rationale".`,
	},
	"generation": {
		System: "You draft the bid document for the RFP. Every quantity, grade and date " +
			"must come from the working context. When refinement feedback is present, address every point. " +
			jsonOnly + ` Fields: "title", "scope", "line_items" (array of {"description","quantity","unit","unit_price"}), "schedule", "assumptions", "summary".`,
	},
	"review": {
		System: "You review a drafted construction bid for completeness, accuracy and persuasiveness. " +
			jsonOnly + ` Fields: "score" (0-100), "strengths" (array), "weaknesses" (array).`,
	},
}
