package graphdb

var indexQueries = []string{
	`CREATE INDEX formula_node_lookup IF NOT EXISTS FOR (n:Formula) ON (n.formula_id, n.name)`,
	`CREATE CONSTRAINT formula_set_id IF NOT EXISTS FOR (s:FormulaSet) REQUIRE s.formula_id IS UNIQUE`,
}

const existsQuery = `
OPTIONAL MATCH (s:FormulaSet {formula_id: $formula_id})
RETURN s IS NOT NULL AS exists`

const listQuery = `
MATCH (s:FormulaSet)
RETURN s.formula_id AS formula_id
ORDER BY formula_id`

const getSetQuery = `
MATCH (s:FormulaSet {formula_id: $formula_id})
RETURN s.source AS source, s.output AS output, s.updated_at AS updated_at`

const getNodesQuery = `
MATCH (n:Formula {formula_id: $formula_id})
RETURN n.name AS name, n.formula AS formula, n.node_type AS node_type
ORDER BY name`

const deleteNodesQuery = `
MATCH (n:Formula {formula_id: $formula_id})
DETACH DELETE n`

const deleteSetQuery = `
MATCH (s:FormulaSet {formula_id: $formula_id})
DELETE s`

const upsertSetQuery = `
MERGE (s:FormulaSet {formula_id: $formula_id})
SET s.source = $source, s.output = $output, s.updated_at = $updated_at`

const createNodesQuery = `
UNWIND $nodes AS node
CREATE (:Formula {formula_id: $formula_id, name: node.name, formula: node.formula, node_type: node.node_type})`

const createEdgesQuery = `
UNWIND $edges AS edge
MATCH (a:Formula {formula_id: $formula_id, name: edge.dependent})
MATCH (b:Formula {formula_id: $formula_id, name: edge.dependency})
CREATE (a)-[:relation {formula_id: $formula_id}]->(b)`

const getEdgesQuery = `
MATCH (a:Formula {formula_id: $formula_id})-[:relation]->(b:Formula)
RETURN a.name AS dependent, b.name AS dependency
ORDER BY dependent, dependency`
