// Package vectorstore stores embedded chunks in per-tenant namespaces.
//
// Every Store call addresses exactly one namespace, and each namespace maps
// onto its own collection, so a query can never see another tenant's
// vectors. Two backends are provided: Qdrant over gRPC for shared
// deployments and chromem-go embedded in the process.
//
//	store, _ := vectorstore.NewStore(cfg, logger)
//	ns := vectorstore.NamespaceFor("acme-dental")
//	_ = store.Upsert(ctx, ns, records)
//	info, _ := store.Describe(ctx, ns)
package vectorstore
