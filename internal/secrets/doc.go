// Package secrets masks credentials in document text before it is indexed.
//
// Detection uses the Gitleaks default rule set. Matches are replaced with
// [REDACTED:rule-id] markers so chunks keep their shape for embedding while
// the secret itself never reaches the vector store.
package secrets
