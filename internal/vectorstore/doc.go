// Package vectorstore stores chunk embeddings and answers exact
// nearest-neighbour queries by cosine distance.
//
// Two backends implement Store: ChromemStore (embedded chromem-go, the
// default) and QdrantStore (Qdrant over gRPC). Both order hits by ascending
// distance with ties broken by chunk ID, reject wrong-dimension vectors as
// validation errors and report backend failures as ragerrors.StorageError.
package vectorstore
