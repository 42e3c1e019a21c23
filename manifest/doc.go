// Package manifest infers dependency manifests for submitted programs.
//
// A Generator sends the program to an OpenAI-compatible chat model and asks
// for a package.json or requirements.txt. The reply is untrusted: it is
// reduced to plain dependency specifiers before it is written into a build
// context, and any reply that does not validate is rejected.
//
// Usage:
//
//	gen := manifest.NewFromConfig(cfg, logger)
//	if gen != nil {
//	    manifest, err := gen.Generate(ctx, manifest.PackageJSON, code)
//	}
package manifest
