// Package hub provides the repository collaborators of the download engine:
// listing the files of a repository revision and building their download URLs.
//
// The defaults target the Hugging Face Hub:
//
//	GET {endpoint}/api/models/{repo}/revision/{revision}
//	GET {endpoint}/{repo}/resolve/{revision}/{path}
//
// Dataset repositories use /api/datasets/ and a /datasets/ URL prefix.
package hub
