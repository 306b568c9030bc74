// Package state persists observable instance data and the mixin layers it is
// built from.
//
// A Store loads and saves one snapshot for one Ref. The Resolver sits on top
// of a Store:
//
//	Store -> Resolver.Mixins -> []observable.DataLayer
//	Store -> Resolver.Restore -> *observable.Instance
//	*observable.Instance -> Resolver.Persist -> Store
//
// Meta.SnapshotID travels onto DataLayer.SnapshotID so that
// Instance.Trace reports which stored snapshot supplied a value.
//
// Keys are deterministic: Ref.Identifier returns "instance/<name>" or
// "mixin/<name>".
package state
