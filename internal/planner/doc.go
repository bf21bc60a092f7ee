// Package planner implements the language-model generators: plan generation
// from a meeting transcript and detail enrichment of a generated plan. Both
// are stateless request/response wrappers around a chat-completion API with
// JSON-shaped replies.
package planner
