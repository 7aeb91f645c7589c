// Package maggtomic is an embeddable datom store.
//
// Every fact is an immutable datom (entity, attribute, value, transaction,
// op). Datoms are never updated or deleted; a retraction is a new datom.
// Four index families (EAVT, AEVT, AVET, VAET) hold the same facts in
// different sort orders, and every read can be made as of any past
// transaction.
//
// Usage:
//
//	conn, err := maggtomic.Open(ctx, maggtomic.Options{Config: cfg})
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//
//	rep, err := conn.Transact(ctx, tx.NewRequest().
//		Assert(tx.Temp("a"), tx.Ident(":person/name"), tx.Lit(datom.String("Ada"))))
//
//	rows, err := conn.Query(ctx, query.Query{
//		Where: []query.Pattern{{
//			E: query.Var("?p"), A: query.Ident(":person/name"),
//			V: query.Var("?name"), T: query.Blank,
//		}},
//	}, 0)
//
// Writes are serialized through a single transactor. Reads run
// concurrently on a separate connection pool and see a consistent
// snapshot bounded by the basis they start with.
package maggtomic
