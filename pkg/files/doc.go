// Package files lists, reads, uploads and shares files in connected storage
// accounts.
//
// Every operation goes through integrations.Service.GetAuthenticatedClient,
// so tokens are refreshed lazily and revoked integrations are refused before
// any network call. Remote metadata is cached in memory, downloads can be
// cached in S3, and each transfer is written to the sync log.
//
// Folder restrictions come from a YAML policy file:
//
//	default_allowed_folders:
//	  - 1AbCdEf
//	organizations:
//	  "6f1c3a2e-...":
//	    allowed_folders: [1XyZ, 1QwE]
//
// An organization without an entry uses the defaults; an empty list allows
// every folder.
package files
